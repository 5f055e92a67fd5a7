// Package dedupe provides the per-agent set of already-processed frame ids.
//
// The set is probabilistic: a scaling bloom filter made of chained
// fixed-capacity layers. When the newest layer fills, a larger layer with
// a tighter error rate is appended, so the set grows without a hard cap
// while the compound false-positive rate stays under the configured bound
// (default 0.1%).
//
// A false positive means a genuinely new frame is reported as seen and is
// dropped. That is the accepted price for bounded memory; there is no
// exact fallback set.
package dedupe
