// Package feed brings external price streams into the process: a
// websocket client per upstream venue and an in-process fanout that
// observers subscribe to per (asset, compare) pair.
package feed

import (
	"sync"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

type pairKey struct {
	asset   domain.Brand
	compare domain.Brand
}

type subscriber struct {
	ch chan domain.PriceQuote
}

// Fanout multiplexes quotes to per-pair subscribers. Delivery is
// latest-wins: a subscriber that has not drained its channel sees the
// stale quote replaced, never a blocked publisher.
type Fanout struct {
	mu   sync.Mutex
	subs map[pairKey]map[*subscriber]struct{}
}

// NewFanout builds an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[pairKey]map[*subscriber]struct{})}
}

// Subscribe registers for quotes of one pair. The cancel func
// unsubscribes synchronously: once it returns, no further sends happen
// and the channel is closed.
func (f *Fanout) Subscribe(asset, compare domain.Brand) (<-chan domain.PriceQuote, func()) {
	key := pairKey{asset: asset, compare: compare}
	sub := &subscriber{ch: make(chan domain.PriceQuote, 1)}

	f.mu.Lock()
	set, ok := f.subs[key]
	if !ok {
		set = make(map[*subscriber]struct{})
		f.subs[key] = set
	}
	set[sub] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := set[sub]; !ok {
			return
		}
		delete(set, sub)
		close(sub.ch)
	}
	return sub.ch, cancel
}

// Publish delivers a quote to every subscriber of its pair.
func (f *Fanout) Publish(asset, compare domain.Brand, q domain.PriceQuote) {
	key := pairKey{asset: asset, compare: compare}

	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[key] {
		// Replace an undrained quote instead of blocking.
		select {
		case sub.ch <- q:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- q:
			default:
			}
		}
	}
}
