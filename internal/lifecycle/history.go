package lifecycle

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// HistoryRecord is one immutable entry in the transition ledger. OldState
// is nil for the creation record.
type HistoryRecord struct {
	ID        string
	EntityID  int64
	Kind      Kind
	OldState  *State
	NewState  State
	Reason    *string
	Actor     string
	Timestamp time.Time
}

// Ref returns the entity the record belongs to.
func (r HistoryRecord) Ref() Ref {
	return Ref{Kind: r.Kind, ID: r.EntityID}
}

// IsCreation reports whether the record is the synthesized creation entry.
func (r HistoryRecord) IsCreation() bool {
	return r.OldState == nil
}

// CreationRecord builds the first record for a newly created entity.
func CreationRecord(ref Ref, actor string, at time.Time) HistoryRecord {
	return HistoryRecord{
		EntityID:  ref.ID,
		Kind:      ref.Kind,
		NewState:  InitialState(ref.Kind),
		Actor:     actor,
		Timestamp: at.UTC(),
	}
}

// HistoryFilter narrows a history query. Zero fields match everything.
// Since is inclusive, Until is exclusive.
type HistoryFilter struct {
	Kind     Kind
	EntityID int64
	Actor    string
	OldState State
	NewState State
	Since    time.Time
	Until    time.Time
}

// Validate checks the filter's enumerated fields.
func (f HistoryFilter) Validate() error {
	if f.Kind != "" && !ValidKind(f.Kind) {
		return fmt.Errorf("unknown entity kind %q", f.Kind)
	}
	if f.EntityID != 0 && f.Kind == "" {
		return fmt.Errorf("entity id filter needs a kind")
	}
	if f.Kind != "" {
		if f.OldState != "" && !ValidState(f.Kind, f.OldState) {
			return fmt.Errorf("%q is not a %s state", f.OldState, f.Kind)
		}
		if f.NewState != "" && !ValidState(f.Kind, f.NewState) {
			return fmt.Errorf("%q is not a %s state", f.NewState, f.Kind)
		}
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return fmt.Errorf("since must be before until")
	}
	return nil
}

// Matches reports whether rec passes the filter.
func (f HistoryFilter) Matches(rec HistoryRecord) bool {
	if f.Kind != "" && rec.Kind != f.Kind {
		return false
	}
	if f.EntityID != 0 && rec.EntityID != f.EntityID {
		return false
	}
	if f.Actor != "" && rec.Actor != f.Actor {
		return false
	}
	if f.OldState != "" && (rec.OldState == nil || *rec.OldState != f.OldState) {
		return false
	}
	if f.NewState != "" && rec.NewState != f.NewState {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// HistoryReader serves read-only queries over the ledger. Results are
// ordered by timestamp ascending, ties broken by append order.
type HistoryReader interface {
	QueryHistory(ctx context.Context, f HistoryFilter) iter.Seq2[HistoryRecord, error]
}

// CollectHistory drains seq into a slice, stopping at the first error.
func CollectHistory(seq iter.Seq2[HistoryRecord, error]) ([]HistoryRecord, error) {
	var out []HistoryRecord
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func failedSeq(err error) iter.Seq2[HistoryRecord, error] {
	return func(yield func(HistoryRecord, error) bool) {
		yield(HistoryRecord{}, err)
	}
}
