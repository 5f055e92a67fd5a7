// Package websocket implements the relay transport (ws://host:port).
//
// Bind starts a Relay: an HTTP server that upgrades clients to websocket
// connections and fans frames out through an in-memory bus.Hub. Connect
// dials a relay. The binding agent talks to its own hub directly.
//
// Every message is a JSON envelope:
//
//	client -> relay  {"op":"subscribe","spaces":["a","b"]}   full set, replaces previous
//	client -> relay  {"op":"publish","space":"a","frame":{...}}
//	relay -> client  {"op":"frame","space":"a","frame":{...}}
//
// A relay created with a credential rejects clients whose
// "Authorization: Bearer <credential>" header differs, with HTTP 401.
package websocket
