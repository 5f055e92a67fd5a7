// Package store keeps a persistent journal of frames using SQLite.
//
// # Schema
//
// Each row holds one frame as seen by one recording agent: the frame's
// wire encoding plus indexed header columns (kind, name, source, space)
// and the recorder's name and timestamp. The pair (frame_id, recorded_by)
// is unique, so re-recording a duplicate delivery is a no-op while two
// recorders sharing a database each keep their own row.
//
// Only transmittable frames are journaled. Internal frames (lifecycle
// events, state changes, local responses) never leave their agent and
// are rejected by SaveFrame.
//
// # Usage
//
//	s, err := store.NewSQLiteStore(path, logger)
//	err = s.SaveFrame(ctx, "recorder", f)
//	recs, err := s.ListFrames(ctx, store.ListParams{Space: "hive", Limit: 50})
//
// Timestamps are fixed-width RFC 3339 strings in UTC, so lexical order
// matches time order for the Since filter.
package store
