package simulation

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/AaronLay10/SmokersTable/internal/log"
)

// Supplier puts a random pair on the table whenever it is empty and free.
// Each pair is picked so that at least one of the targeted smokers can use
// it.
type Supplier struct {
	table    *Table
	catalog  Catalog
	targets  []Ingredient
	interval time.Duration
	placed   atomic.Int64

	logger zerolog.Logger
}

// NewSupplier creates a supplier. targets are the ingredients owned by the
// smokers at the table; interval is the pause between the table becoming
// empty and the next pair being placed.
func NewSupplier(table *Table, catalog Catalog, targets []Ingredient, interval time.Duration) *Supplier {
	return &Supplier{
		table:    table,
		catalog:  catalog,
		targets:  append([]Ingredient(nil), targets...),
		interval: interval,
		logger:   log.WithComponent("supplier"),
	}
}

// Placed returns the number of pairs put on the table.
func (s *Supplier) Placed() int64 { return s.placed.Load() }

// Pair picks a target smoker at random and returns two distinct ingredients
// it lacks.
func (s *Supplier) Pair() (Ingredient, Ingredient) {
	target := s.targets[rand.IntN(len(s.targets))]
	options := s.catalog.Complement(target)
	i := rand.IntN(len(options))
	j := rand.IntN(len(options) - 1)
	if j >= i {
		j++
	}
	return options[i], options[j]
}

// Run supplies until ctx is cancelled and returns ctx.Err().
func (s *Supplier) Run(ctx context.Context) error {
	if len(s.targets) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		wake := s.table.Changed()
		st := s.table.Snapshot()

		if len(st.Ingredients) == 0 && !st.Busy {
			if err := sleep(ctx, s.interval); err != nil {
				return err
			}
			a, b := s.Pair()
			err := s.table.Place(a, b)
			switch {
			case err == nil:
				n := s.placed.Add(1)
				s.logger.Debug().Str("first", a.ID).Str("second", b.ID).Int64("placed", n).Msg("placed pair")
			case errors.Is(err, ErrTableOccupied), errors.Is(err, ErrTableBusy):
				// Another supplier got there first.
			default:
				s.logger.Error().Err(err).Msg("place failed")
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
