// Package simulation implements the cigarette smokers table: a shared table
// holding at most two ingredients, smokers that each own one ingredient and
// smoke when the other two are on the table, and a supplier that refills it.
package simulation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/SmokersTable/internal/config"
	"github.com/AaronLay10/SmokersTable/internal/log"
)

// Simulation wires one table, its smokers and the optional supplier.
type Simulation struct {
	id       string
	catalog  Catalog
	table    *Table
	smokers  []*Smoker
	supplier *Supplier

	logger zerolog.Logger
}

// New builds a simulation from a validated configuration.
func New(cfg *config.SimConfig, observers ...CycleObserver) (*Simulation, error) {
	catalog := make(Catalog, 0, len(cfg.Ingredients))
	for _, ic := range cfg.Ingredients {
		catalog = append(catalog, Ingredient{ID: ic.ID, Label: ic.Label})
	}
	if len(catalog) < Capacity+1 {
		return nil, fmt.Errorf("need at least %d ingredients, got %d", Capacity+1, len(catalog))
	}

	sim := &Simulation{
		id:      cfg.Simulation.ID,
		catalog: catalog,
		table:   NewTable(),
		logger:  log.WithComponent("simulation").With().Str("simulation_id", cfg.Simulation.ID).Logger(),
	}

	opts := SmokerOptions{
		PollInterval: cfg.Timing.PollInterval,
		Sampler: UniformDuration{
			Min:  cfg.Timing.SmokeMin,
			Max:  cfg.Timing.SmokeMax,
			Step: cfg.Timing.SmokeStep,
		},
		PollOnly:  cfg.Timing.WakeMode == config.WakePoll,
		Observers: observers,
	}

	seen := make(map[string]struct{}, len(cfg.Smokers))
	var targets []Ingredient
	for _, sc := range cfg.Smokers {
		ing, err := catalog.Lookup(sc.Ingredient)
		if err != nil {
			return nil, fmt.Errorf("smoker %q: %w", sc.ID, err)
		}
		sm := NewSmoker(sc.ID, ing, sim.table, opts)
		if _, dup := seen[sm.ID()]; dup {
			return nil, fmt.Errorf("duplicate smoker id %q", sm.ID())
		}
		seen[sm.ID()] = struct{}{}
		sim.smokers = append(sim.smokers, sm)
		targets = append(targets, ing)
	}

	if cfg.SupplierEnabled() {
		sim.supplier = NewSupplier(sim.table, catalog, targets, cfg.Timing.SupplyInterval)
	}

	return sim, nil
}

func (s *Simulation) ID() string { return s.id }

func (s *Simulation) Table() *Table { return s.table }

func (s *Simulation) Catalog() Catalog { return s.catalog }

func (s *Simulation) Smokers() []*Smoker { return s.smokers }

// Supplier returns the built-in supplier, or nil when it is disabled.
func (s *Simulation) Supplier() *Supplier { return s.supplier }

// Smoker looks a smoker up by id.
func (s *Simulation) Smoker(id string) (*Smoker, bool) {
	for _, sm := range s.smokers {
		if sm.ID() == id {
			return sm, true
		}
	}
	return nil, false
}

// Statuses returns the display snapshot of every smoker in table order.
func (s *Simulation) Statuses() []Status {
	out := make([]Status, len(s.smokers))
	for i, sm := range s.smokers {
		out[i] = sm.Status()
	}
	return out
}

// AddObserver registers o with every smoker.
func (s *Simulation) AddObserver(o CycleObserver) {
	for _, sm := range s.smokers {
		sm.AddObserver(o)
	}
}

// Run starts every smoker and the supplier and blocks until ctx is
// cancelled. A cancelled context is a clean stop and yields nil.
func (s *Simulation) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, sm := range s.smokers {
		g.Go(func() error { return sm.Run(gctx) })
	}
	if s.supplier != nil {
		g.Go(func() error { return s.supplier.Run(gctx) })
	}

	s.logger.Info().Int("smokers", len(s.smokers)).Bool("supplier", s.supplier != nil).Msg("simulation running")
	err := g.Wait()
	s.logger.Info().Msg("simulation stopped")

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
