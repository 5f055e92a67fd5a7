// Package orchestrator wires several agents onto one transport and space
// and coordinates their shutdown.
//
// # Topologies
//
//   - One agent: connect, join, run.
//   - Several agents on an inmemory:// endpoint: the first agent starts and
//     binds the endpoint, acting as the local broker; the rest connect.
//   - Several agents on a broker endpoint: every agent connects.
//
// In every topology all agents join the target space and the last agent's
// Run blocks the caller. When the last agent emits "*** stopping" the
// orchestrator stops every other agent; Stop is a no-op on agents that
// already stopped.
package orchestrator
