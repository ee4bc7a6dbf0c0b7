package lend

import (
	"math"
	"math/big"
	"sync"

	"github.com/google/btree"
)

const btreeDegree = 16

// priorityKey orders loans by how close they are to liquidation: the
// ratio of pledged collateral to normalized debt, ascending. The key is
// a float64 used for ordering only; no money math ever reads it back.
// A loan with no collateral sorts below every real ratio.
func priorityKey(l *Loan) float64 {
	if l.Collateral.IsZero() {
		return -1
	}
	nd := l.NormalizedDebt()
	if nd.Sign() == 0 {
		return math.MaxFloat64
	}
	r := new(big.Rat).Quo(new(big.Rat).SetInt(l.Collateral.Value), nd)
	f, _ := r.Float64()
	return f
}

type priorityItem struct {
	key  float64
	loan *Loan
}

func (a priorityItem) less(b priorityItem) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.loan.ID < b.loan.ID
}

// PriorityStore tracks the open loans of one (debt pool, collateral
// brand) pair ordered by liquidation proximity, and reports the single
// most-at-risk loan. The on-reorder hook fires synchronously, while the
// store lock is held, whenever the minimum changes.
type PriorityStore struct {
	mu        sync.Mutex
	tree      *btree.BTreeG[priorityItem]
	keys      map[string]float64
	onReorder func(*Loan)
}

// NewPriorityStore builds an empty store.
func NewPriorityStore() *PriorityStore {
	return &PriorityStore{
		tree: btree.NewG(btreeDegree, priorityItem.less),
		keys: make(map[string]float64),
	}
}

// SetOnReorder installs the hook invoked when the most-at-risk loan
// changes. The hook runs synchronously under the store lock and must
// not call back into the store.
func (s *PriorityStore) SetOnReorder(fn func(*Loan)) {
	s.mu.Lock()
	s.onReorder = fn
	s.mu.Unlock()
}

// Insert adds a loan, recomputing its key from current balances.
func (s *PriorityStore) Insert(l *Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.minLocked()
	s.insertLocked(l)
	s.notifyIfChanged(before)
}

// Remove drops a loan from the ordering.
func (s *PriorityStore) Remove(l *Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.minLocked()
	s.removeLocked(l)
	s.notifyIfChanged(before)
}

// RemoveAndReinsert atomically re-keys a loan after a balance change.
// The loan is never observable as absent between the two steps.
func (s *PriorityStore) RemoveAndReinsert(l *Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.minLocked()
	s.removeLocked(l)
	s.insertLocked(l)
	s.notifyIfChanged(before)
}

// MostAtRisk returns the loan with the smallest collateralization key,
// or nil when the store is empty.
func (s *PriorityStore) MostAtRisk() *Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minLocked()
}

// Len returns the number of tracked loans.
func (s *PriorityStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

func (s *PriorityStore) insertLocked(l *Loan) {
	k := priorityKey(l)
	s.tree.ReplaceOrInsert(priorityItem{key: k, loan: l})
	s.keys[l.ID] = k
}

func (s *PriorityStore) removeLocked(l *Loan) {
	k, ok := s.keys[l.ID]
	if !ok {
		return
	}
	s.tree.Delete(priorityItem{key: k, loan: l})
	delete(s.keys, l.ID)
}

func (s *PriorityStore) minLocked() *Loan {
	item, ok := s.tree.Min()
	if !ok {
		return nil
	}
	return item.loan
}

func (s *PriorityStore) notifyIfChanged(before *Loan) {
	after := s.minLocked()
	if after == before || s.onReorder == nil {
		return
	}
	s.onReorder(after)
}
