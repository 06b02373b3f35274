package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps schedules and logs in process. Row mutexes are held
// until the unit of work ends, matching the row locks of the pg repository.
type MemoryRepository struct {
	mu        sync.RWMutex
	schedules map[int64]Schedule
	logs      []LogEntry
	nextID    int64

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex
}

// NewMemoryRepository constructs an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		schedules: make(map[int64]Schedule),
		locks:     make(map[int64]*sync.Mutex),
	}
}

func (r *MemoryRepository) rowLock(id int64) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *MemoryRepository) newID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// WithTx runs fn against a unit of work whose writes apply only on success.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		repo:    r,
		held:    make(map[int64]*sync.Mutex),
		saved:   make(map[int64]Schedule),
		deleted: make(map[int64]bool),
	}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// GetSchedule loads a schedule without locking it.
func (r *MemoryRepository) GetSchedule(ctx context.Context, id int64) (Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[id]
	if !ok {
		return Schedule{}, ErrScheduleNotFound
	}
	return s, nil
}

// ListDueBefore returns schedules due on or before cutoff, earliest first.
func (r *MemoryRepository) ListDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Schedule{}
	for _, s := range r.schedules {
		if !s.NextDue.After(cutoff) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextDue.Equal(out[j].NextDue) {
			return out[i].NextDue.Before(out[j].NextDue)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListLogs returns the log entries of a schedule, newest first.
func (r *MemoryRepository) ListLogs(ctx context.Context, scheduleID int64) ([]LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []LogEntry{}
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].ScheduleID == scheduleID {
			out = append(out, r.logs[i])
		}
	}
	return out, nil
}

type memoryTx struct {
	repo    *MemoryRepository
	held    map[int64]*sync.Mutex
	saved   map[int64]Schedule
	deleted map[int64]bool
	logs    []LogEntry
}

func (tx *memoryTx) lock(id int64) {
	if _, ok := tx.held[id]; ok {
		return
	}
	l := tx.repo.rowLock(id)
	l.Lock()
	tx.held[id] = l
}

func (tx *memoryTx) release() {
	for id, l := range tx.held {
		l.Unlock()
		delete(tx.held, id)
	}
}

func (tx *memoryTx) commit() {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range tx.saved {
		r.schedules[id] = s
	}
	for id := range tx.deleted {
		delete(r.schedules, id)
	}
	r.logs = append(r.logs, tx.logs...)
}

func (tx *memoryTx) GetScheduleForUpdate(ctx context.Context, id int64) (Schedule, error) {
	tx.lock(id)
	if tx.deleted[id] {
		return Schedule{}, ErrScheduleNotFound
	}
	if s, ok := tx.saved[id]; ok {
		return s, nil
	}
	return tx.repo.GetSchedule(ctx, id)
}

func (tx *memoryTx) InsertSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	s.ID = tx.repo.newID()
	s.CreatedAt = time.Now().UTC()
	tx.lock(s.ID)
	tx.saved[s.ID] = s
	return s, nil
}

func (tx *memoryTx) SaveSchedule(ctx context.Context, s Schedule) error {
	if _, err := tx.GetScheduleForUpdate(ctx, s.ID); err != nil {
		return err
	}
	tx.saved[s.ID] = s
	return nil
}

func (tx *memoryTx) DeleteSchedule(ctx context.Context, id int64) error {
	if _, err := tx.GetScheduleForUpdate(ctx, id); err != nil {
		return fmt.Errorf("delete schedule %d: %w", id, err)
	}
	delete(tx.saved, id)
	tx.deleted[id] = true
	return nil
}

func (tx *memoryTx) AppendLog(ctx context.Context, entry LogEntry) (LogEntry, error) {
	entry.ID = tx.repo.newID()
	entry.CreatedAt = time.Now().UTC()
	tx.logs = append(tx.logs, entry)
	return entry, nil
}
