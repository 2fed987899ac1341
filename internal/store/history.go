package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

const historyColumns = `id, entity_kind, entity_id, old_state, new_state, reason, actor, occurred_at`

// QueryHistory implements lifecycle.HistoryReader. Records stream in
// timestamp order with ties broken by append order. The sqlite connection
// is held until iteration ends, so callers must not use the store from
// inside the loop.
func (s *Store) QueryHistory(ctx context.Context, f lifecycle.HistoryFilter) iter.Seq2[lifecycle.HistoryRecord, error] {
	return func(yield func(lifecycle.HistoryRecord, error) bool) {
		query, args := historyQuery(f)
		rows, err := s.query(ctx, s.db, query, args...)
		if err != nil {
			yield(lifecycle.HistoryRecord{}, fmt.Errorf("query history: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanHistory(rows)
			if err != nil {
				yield(lifecycle.HistoryRecord{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(lifecycle.HistoryRecord{}, fmt.Errorf("read history: %w", err))
		}
	}
}

// EntityHistory returns every record for ref, oldest first.
func (s *Store) EntityHistory(ctx context.Context, ref lifecycle.Ref) ([]lifecycle.HistoryRecord, error) {
	return lifecycle.CollectHistory(s.QueryHistory(ctx, lifecycle.HistoryFilter{Kind: ref.Kind, EntityID: ref.ID}))
}

func historyQuery(f lifecycle.HistoryFilter) (string, []any) {
	var where []string
	var args []any
	if f.Kind != "" {
		where = append(where, `entity_kind = ?`)
		args = append(args, string(f.Kind))
	}
	if f.EntityID != 0 {
		where = append(where, `entity_id = ?`)
		args = append(args, f.EntityID)
	}
	if f.Actor != "" {
		where = append(where, `actor = ?`)
		args = append(args, f.Actor)
	}
	if f.OldState != "" {
		where = append(where, `old_state = ?`)
		args = append(args, string(f.OldState))
	}
	if f.NewState != "" {
		where = append(where, `new_state = ?`)
		args = append(args, string(f.NewState))
	}
	if !f.Since.IsZero() {
		where = append(where, `occurred_at >= ?`)
		args = append(args, f.Since.UTC().UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, `occurred_at < ?`)
		args = append(args, f.Until.UTC().UnixNano())
	}

	query := `SELECT ` + historyColumns + ` FROM history`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY occurred_at, seq`
	return query, args
}

func scanHistory(sc scanner) (lifecycle.HistoryRecord, error) {
	var rec lifecycle.HistoryRecord
	var kind, newState string
	var oldState, reason sql.NullString
	var at int64
	if err := sc.Scan(&rec.ID, &kind, &rec.EntityID, &oldState, &newState, &reason, &rec.Actor, &at); err != nil {
		return lifecycle.HistoryRecord{}, fmt.Errorf("scan history: %w", err)
	}
	rec.Kind = lifecycle.Kind(kind)
	rec.NewState = lifecycle.State(newState)
	if oldState.Valid {
		st := lifecycle.State(oldState.String)
		rec.OldState = &st
	}
	if reason.Valid {
		r := reason.String
		rec.Reason = &r
	}
	rec.Timestamp = unixTime(at)
	return rec, nil
}
