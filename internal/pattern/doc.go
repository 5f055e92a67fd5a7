// Package pattern compiles handler subscription patterns and matches them
// against frame names.
//
// Three forms are supported:
//
//	"ping"          exact: matches only "ping"
//	"*"             wildcard: matches every name
//	"help {topic}"  template: literal text plus named capture slots
//
// A capture slot matches one non-empty run of non-whitespace characters,
// so "help {topic}" matches "help pricing" (topic=pricing) but neither
// "help" nor "help a b". Literal text, including spaces, must align exactly.
package pattern
