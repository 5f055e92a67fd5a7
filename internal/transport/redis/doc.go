// Package redis implements the pub/sub broker transport (redis://host:port).
//
// Each space is a redis channel. Redis offers no way to atomically swap a
// subscription's channel set, so every Join and Leave runs a full cycle:
//
//  1. wait, bounded by the join timeout, until the connection is marked
//     connected (Join may race a Connect still in flight)
//  2. SUBSCRIBE to the complete joined set on a fresh PubSub handle and
//     wait for the confirmation
//  3. cancel the previous listener and close the previous handle
//  4. start a new listener over the fresh handle
//
// Frames received on both handles during the overlap are absorbed by the
// agent's dedup set.
package redis
