package observer

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lendcore/internal/domain"
	"github.com/alanyoungcy/lendcore/internal/lend"
)

// Manager runs one observer per watchable pool pair: every borrowable
// pool crossed with every pool whose token may serve as collateral.
type Manager struct {
	registry *lend.Registry
	compare  domain.Brand
	source   QuoteSource
	trigger  TriggerFunc
	log      *slog.Logger
}

// NewManager builds the manager.
func NewManager(registry *lend.Registry, compare domain.Brand, source QuoteSource, trigger TriggerFunc, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		registry: registry,
		compare:  compare,
		source:   source,
		trigger:  trigger,
		log:      log,
	}
}

// Run starts every observer and blocks until the context ends or one
// observer fails.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	pools := m.registry.List()
	n := 0
	for _, debt := range pools {
		if !debt.Params().Borrowable {
			continue
		}
		for _, collat := range pools {
			if !collat.Params().UsableAsCollateral {
				continue
			}
			o := New(debt, collat, m.compare, m.source, m.trigger, m.log)
			g.Go(func() error { return o.Run(ctx) })
			n++
		}
	}
	m.log.Info("observers started", "pairs", n)
	return g.Wait()
}
