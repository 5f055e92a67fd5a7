// ABOUTME: Frame journal operations: record, fetch and list transmitted frames
// ABOUTME: Frames are stored in their wire encoding alongside indexed header columns

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/2389/hive/internal/frame"
)

// ErrFrameNotFound is returned when a requested frame was never recorded
var ErrFrameNotFound = errors.New("frame not found")

// timeFormat is fixed-width so lexical order matches time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// Journal persists frames seen by recording agents.
type Journal interface {
	SaveFrame(ctx context.Context, recordedBy string, f *frame.Frame) error
	GetFrame(ctx context.Context, id string) (*Record, error)
	ListFrames(ctx context.Context, params ListParams) ([]*Record, error)
	Close() error
}

// Record is one journaled frame.
type Record struct {
	Seq        int64
	Frame      *frame.Frame
	RecordedBy string
	RecordedAt time.Time
}

// ListParams filters ListFrames. Zero fields match everything.
type ListParams struct {
	Space  string
	Name   string
	Source string
	Kind   frame.Kind
	Since  *time.Time // only records at or after this time
	Limit  int        // 1-500, defaults to 100
}

// SaveFrame records f. Recording the same frame twice for one recorder is a no-op.
func (s *SQLiteStore) SaveFrame(ctx context.Context, recordedBy string, f *frame.Frame) error {
	if f.Internal() {
		return fmt.Errorf("%w: internal frames are not journaled", frame.ErrValidation)
	}
	payload, err := frame.Encode(f)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	query := `
		INSERT OR IGNORE INTO frames (
			frame_id, kind, name, source, space, payload, recorded_by, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		f.ID(),
		f.Kind().String(),
		f.Name(),
		f.Source(),
		f.Space(),
		string(payload),
		recordedBy,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting frame: %w", err)
	}

	s.logger.Debug("recorded frame",
		"frame_id", f.ID(),
		"name", f.Name(),
		"recorded_by", recordedBy,
	)
	return nil
}

// GetFrame returns the earliest record of the frame with the given id.
func (s *SQLiteStore) GetFrame(ctx context.Context, id string) (*Record, error) {
	query := `
		SELECT seq, payload, recorded_by, recorded_at
		FROM frames
		WHERE frame_id = ?
		ORDER BY seq ASC
		LIMIT 1
	`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFrameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying frame: %w", err)
	}
	return rec, nil
}

// ListFrames returns the newest Limit matching records, oldest first.
func (s *SQLiteStore) ListFrames(ctx context.Context, params ListParams) ([]*Record, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var (
		where []string
		args  []any
	)
	if params.Space != "" {
		where = append(where, "space = ?")
		args = append(args, params.Space)
	}
	if params.Name != "" {
		where = append(where, "name = ?")
		args = append(args, params.Name)
	}
	if params.Source != "" {
		where = append(where, "source = ?")
		args = append(args, params.Source)
	}
	if params.Kind != frame.KindUnset {
		where = append(where, "kind = ?")
		args = append(args, params.Kind.String())
	}
	if params.Since != nil {
		where = append(where, "recorded_at >= ?")
		args = append(args, params.Since.UTC().Format(timeFormat))
	}

	var query strings.Builder
	query.WriteString("SELECT seq, payload, recorded_by, recorded_at FROM frames")
	if len(where) > 0 {
		query.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY seq DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying frames: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating frames: %w", err)
	}
	slices.Reverse(records)
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec        Record
		payload    string
		recordedAt string
	)
	if err := row.Scan(&rec.Seq, &payload, &rec.RecordedBy, &recordedAt); err != nil {
		return nil, err
	}

	f, err := frame.Decode([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decoding frame %d: %w", rec.Seq, err)
	}
	rec.Frame = f

	rec.RecordedAt, err = time.Parse(timeFormat, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &rec, nil
}
