package proposal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

// MemoryRepository keeps proposals in process. Row mutexes are held until
// the unit of work ends; the year counter is guarded the same way.
type MemoryRepository struct {
	mu        sync.RWMutex
	proposals map[int64]Proposal
	sequences map[int]int
	nextID    int64

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewMemoryRepository constructs an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		proposals: make(map[int64]Proposal),
		sequences: make(map[int]int),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (r *MemoryRepository) rowLock(key string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// WithTx runs fn against a unit of work whose writes apply only on success.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		repo:      r,
		held:      make(map[string]*sync.Mutex),
		saved:     make(map[int64]Proposal),
		deleted:   make(map[int64]bool),
		sequences: make(map[int]int),
	}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// Get loads a proposal.
func (r *MemoryRepository) Get(ctx context.Context, id int64) (Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proposals[id]
	if !ok {
		return Proposal{}, ErrProposalNotFound
	}
	return clone(p), nil
}

// List returns proposals in status, or every proposal when status is empty,
// newest first.
func (r *MemoryRepository) List(ctx context.Context, status Status, limit int) ([]Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Proposal{}
	for _, p := range r.proposals {
		if status == "" || p.Status == status {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(p Proposal) Proposal {
	p.Lines = append([]Line(nil), p.Lines...)
	return p
}

type memoryTx struct {
	repo      *MemoryRepository
	held      map[string]*sync.Mutex
	saved     map[int64]Proposal
	deleted   map[int64]bool
	sequences map[int]int
}

func (tx *memoryTx) lock(key string) {
	if _, ok := tx.held[key]; ok {
		return
	}
	l := tx.repo.rowLock(key)
	l.Lock()
	tx.held[key] = l
}

func (tx *memoryTx) release() {
	for key, l := range tx.held {
		l.Unlock()
		delete(tx.held, key)
	}
}

func (tx *memoryTx) commit() error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range tx.saved {
		for otherID, other := range r.proposals {
			if otherID != id && other.Code == p.Code {
				return fmt.Errorf("proposal: code %s: %w", p.Code, shared.ErrDuplicateCode)
			}
		}
	}
	for year, seq := range tx.sequences {
		r.sequences[year] = seq
	}
	for id, p := range tx.saved {
		r.proposals[id] = p
	}
	for id := range tx.deleted {
		delete(r.proposals, id)
	}
	return nil
}

func (tx *memoryTx) NextSequence(ctx context.Context, year int) (int, error) {
	tx.lock(fmt.Sprintf("seq:%d", year))
	seq, ok := tx.sequences[year]
	if !ok {
		tx.repo.mu.RLock()
		seq = tx.repo.sequences[year]
		tx.repo.mu.RUnlock()
	}
	seq++
	tx.sequences[year] = seq
	return seq, nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (Proposal, error) {
	tx.lock(fmt.Sprintf("proposal:%d", id))
	if tx.deleted[id] {
		return Proposal{}, ErrProposalNotFound
	}
	if p, ok := tx.saved[id]; ok {
		return clone(p), nil
	}
	return tx.repo.Get(ctx, id)
}

func (tx *memoryTx) Insert(ctx context.Context, p Proposal) (Proposal, error) {
	tx.repo.mu.Lock()
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	tx.repo.mu.Unlock()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	tx.lock(fmt.Sprintf("proposal:%d", p.ID))
	tx.saved[p.ID] = clone(p)
	return p, nil
}

func (tx *memoryTx) Save(ctx context.Context, p Proposal) error {
	current, err := tx.GetForUpdate(ctx, p.ID)
	if err != nil {
		return err
	}
	p.Code, p.Requester, p.CreatedAt = current.Code, current.Requester, current.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	tx.saved[p.ID] = clone(p)
	return nil
}

func (tx *memoryTx) Delete(ctx context.Context, id int64) error {
	if _, err := tx.GetForUpdate(ctx, id); err != nil {
		return err
	}
	delete(tx.saved, id)
	tx.deleted[id] = true
	return nil
}
