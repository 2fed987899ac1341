package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory EntityStore + HistoryReader for engine tests.
type memStore struct {
	mu       sync.Mutex
	entities map[Ref]Snapshot
	history  []HistoryRecord
	seq      int

	// loadBarrier, when set, holds every LoadState until all callers arrive.
	loadBarrier *sync.WaitGroup
	// failAppend makes AppendHistory fail after WriteState succeeded.
	failAppend error
	// failLoad makes LoadState fail.
	failLoad error
}

func newMemStore() *memStore {
	return &memStore{entities: make(map[Ref]Snapshot)}
}

func (m *memStore) put(ref Ref, state State, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[ref] = Snapshot{Ref: ref, State: state, Owner: owner, Version: 1}
}

func (m *memStore) state(ref Ref) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entities[ref].State
}

func (m *memStore) records() []HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryRecord, len(m.history))
	copy(out, m.history)
	return out
}

func (m *memStore) LoadState(ctx context.Context, ref Ref) (Snapshot, error) {
	if m.failLoad != nil {
		return Snapshot{}, m.failLoad
	}
	m.mu.Lock()
	snap, ok := m.entities[ref]
	m.mu.Unlock()
	if m.loadBarrier != nil {
		m.loadBarrier.Done()
		m.loadBarrier.Wait()
	}
	if !ok {
		return Snapshot{}, ErrEntityNotFound
	}
	return snap, nil
}

type memUnit struct {
	store   *memStore
	writes  map[Ref]Snapshot
	appends []HistoryRecord
}

func (m *memStore) Atomically(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := &memUnit{store: m, writes: make(map[Ref]Snapshot)}
	if err := fn(ctx, u); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for ref, snap := range u.writes {
		m.entities[ref] = snap
	}
	m.history = append(m.history, u.appends...)
	return nil
}

func (u *memUnit) WriteState(ctx context.Context, ref Ref, state State, expectedVersion int64) error {
	cur, ok := u.store.entities[ref]
	if !ok || cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	cur.State = state
	cur.Version++
	u.writes[ref] = cur
	return nil
}

func (u *memUnit) AppendHistory(ctx context.Context, rec HistoryRecord) (string, error) {
	if u.store.failAppend != nil {
		return "", u.store.failAppend
	}
	u.store.seq++
	rec.ID = fmt.Sprintf("h-%d", u.store.seq)
	u.appends = append(u.appends, rec)
	return rec.ID, nil
}

func (m *memStore) QueryHistory(ctx context.Context, f HistoryFilter) iter.Seq2[HistoryRecord, error] {
	return func(yield func(HistoryRecord, error) bool) {
		recs := m.records()
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].Timestamp.Before(recs[j].Timestamp)
		})
		for _, r := range recs {
			if !f.Matches(r) {
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// stepClock advances one second per reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

var errDiskGone = errors.New("disk gone")
