package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/AaronLay10/SmokersTable/internal/events"
	"github.com/AaronLay10/SmokersTable/internal/log"
)

// ErrInterruptedWhileSmoking is returned when the context is cancelled
// during a cycle. The table has already been cleared and freed.
var ErrInterruptedWhileSmoking = errors.New("interrupted while smoking")

// DefaultPollInterval is the fallback wake-up period of a smoker loop.
const DefaultPollInterval = 500 * time.Millisecond

// DurationSampler picks how long one cigarette lasts.
type DurationSampler interface {
	Sample() time.Duration
}

// FixedDuration always samples the same duration.
type FixedDuration time.Duration

func (d FixedDuration) Sample() time.Duration { return time.Duration(d) }

// UniformDuration samples uniformly from Min, Min+Step, ..., Max.
type UniformDuration struct {
	Min, Max, Step time.Duration
}

// DefaultSampler matches the classic 2 to 7 whole seconds.
var DefaultSampler = UniformDuration{Min: 2 * time.Second, Max: 7 * time.Second, Step: time.Second}

func (u UniformDuration) Sample() time.Duration {
	if u.Max <= u.Min {
		return u.Min
	}
	step := u.Step
	if step <= 0 {
		step = time.Second
	}
	n := int64((u.Max - u.Min) / step)
	return u.Min + time.Duration(rand.Int64N(n+1))*step
}

// SmokerOptions tunes a smoker loop. Zero values select the defaults.
type SmokerOptions struct {
	PollInterval time.Duration
	Sampler      DurationSampler
	// PollOnly disables table change notifications; the smoker then only
	// looks at the table on poll ticks.
	PollOnly  bool
	Observers []CycleObserver
}

// Smoker owns one ingredient type and smokes whenever the table holds the
// two it lacks.
type Smoker struct {
	id         string
	ingredient Ingredient
	table      *Table
	poll       time.Duration
	sampler    DurationSampler
	pollOnly   bool

	smoked atomic.Int64

	mu        sync.RWMutex
	state     State
	startedAt time.Time
	current   time.Duration
	observers []CycleObserver

	logger zerolog.Logger
}

// NewSmoker creates a smoker bound to ing. An empty id defaults to the
// ingredient id.
func NewSmoker(id string, ing Ingredient, table *Table, opts SmokerOptions) *Smoker {
	if id == "" {
		id = ing.ID
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Sampler == nil {
		opts.Sampler = DefaultSampler
	}

	s := &Smoker{
		id:         id,
		ingredient: ing,
		table:      table,
		poll:       opts.PollInterval,
		sampler:    opts.Sampler,
		pollOnly:   opts.PollOnly,
		state:      StateIdle,
		observers:  append([]CycleObserver(nil), opts.Observers...),
		logger:     log.WithComponent("smoker").With().Str("smoker_id", id).Str("ingredient", ing.ID).Logger(),
	}

	s.logger.Info().Msg("created smoker")
	events.Emit("info", "smoker.created", "", map[string]interface{}{
		"smoker_id":  id,
		"ingredient": ing.ID,
	})
	return s
}

func (s *Smoker) ID() string { return s.id }

func (s *Smoker) Ingredient() Ingredient { return s.ingredient }

// AddObserver registers o for future cycles.
func (s *Smoker) AddObserver(o CycleObserver) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Eligible reports whether a smoker owning own may smoke onTable: exactly
// two ingredients, neither of them its own type.
func Eligible(own Ingredient, onTable []Ingredient) bool {
	if len(onTable) != Capacity {
		return false
	}
	for _, ing := range onTable {
		if ing.Same(own) {
			return false
		}
	}
	return true
}

// CanSmoke evaluates eligibility against a snapshot of the table. The
// answer may be stale by the time it is returned; TrySmoke does not rely on it.
func (s *Smoker) CanSmoke() bool {
	return Eligible(s.ingredient, s.table.Ingredients())
}

func (s *Smoker) eligible(onTable []Ingredient) bool {
	return Eligible(s.ingredient, onTable)
}

// TrySmoke claims the table if it is free and eligible and then smokes.
// It reports whether a cycle was started.
func (s *Smoker) TrySmoke(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.setState(StateClaiming)
	claimed, ok := s.table.TryClaim(s.id, s.eligible)
	if !ok {
		s.setState(StateIdle)
		return false, nil
	}

	events.Emit("info", "table.claimed", "", map[string]interface{}{
		"smoker_id":   s.id,
		"ingredients": ids(claimed),
	})
	return true, s.smoke(ctx)
}

// smoke runs one cycle on a table this smoker has claimed. The table is
// released whatever happens.
func (s *Smoker) smoke(ctx context.Context) (err error) {
	d := s.sampler.Sample()

	s.mu.Lock()
	s.state = StateSmoking
	s.startedAt = time.Now()
	s.current = d
	s.mu.Unlock()

	s.logger.Info().Dur("duration", d).Msg("begin smoking")
	events.Emit("info", "smoker.started", "", map[string]interface{}{
		"smoker_id":   s.id,
		"ingredient":  s.ingredient.ID,
		"duration_ms": d.Milliseconds(),
	})
	s.notifyStarted()

	defer func() {
		st := s.Status()
		s.mu.Lock()
		s.state = StateIdle
		s.current = 0
		s.mu.Unlock()
		st.State, st.Smoking = StateIdle, false

		s.notifyFinished(st, err)
		if s.table.Release(s.id) {
			events.Emit("info", "table.cleared", "", map[string]interface{}{"smoker_id": s.id})
		}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.logger.Warn().Err(ctx.Err()).Msg("interrupted while smoking")
		events.Emit("warning", "smoker.interrupted", ctx.Err().Error(), map[string]interface{}{
			"smoker_id": s.id,
		})
		return fmt.Errorf("smoker %s: %w: %w", s.id, ErrInterruptedWhileSmoking, ctx.Err())
	case <-timer.C:
	}

	n := s.smoked.Add(1)
	s.logger.Info().Int64("smoked", n).Msg("finish smoking")
	events.Emit("info", "smoker.finished", "", map[string]interface{}{
		"smoker_id":   s.id,
		"ingredient":  s.ingredient.ID,
		"smoked":      n,
		"duration_ms": d.Milliseconds(),
	})
	return nil
}

// Run keeps trying to smoke until ctx is cancelled, waking on every table
// change and on each poll tick. It always returns ctx.Err().
func (s *Smoker) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		var wake <-chan struct{}
		if !s.pollOnly {
			wake = s.table.Changed()
		}

		if _, err := s.TrySmoke(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Msg("smoking cycle failed")
			events.Emit("error", "smoker.error", err.Error(), map[string]interface{}{"smoker_id": s.id})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}
}

func (s *Smoker) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Smoker) notifyStarted() {
	st := s.Status()
	s.mu.RLock()
	obs := s.observers
	s.mu.RUnlock()
	for _, o := range obs {
		o.SmokingStarted(st)
	}
}

func (s *Smoker) notifyFinished(st Status, err error) {
	s.mu.RLock()
	obs := s.observers
	s.mu.RUnlock()
	for _, o := range obs {
		o.SmokingFinished(st, err)
	}
}

// Smoked returns the number of completed cigarettes.
func (s *Smoker) Smoked() int64 { return s.smoked.Load() }

// RestoreSmoked sets the counter from a persisted value. Call it before Run.
func (s *Smoker) RestoreSmoked(n int64) { s.smoked.Store(n) }

func (s *Smoker) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Smoker) IsSmoking() bool { return s.State() == StateSmoking }

// Progress returns how far the current cigarette is, from 0 to 1. It is 0
// when not smoking.
func (s *Smoker) Progress() float64 { return s.Status().Progress }

// Status returns the display snapshot.
func (s *Smoker) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		ID:         s.id,
		Ingredient: s.ingredient.ID,
		State:      s.state,
		Smoking:    s.state == StateSmoking,
		Smoked:     s.smoked.Load(),
	}
	if st.Smoking && s.current > 0 {
		elapsed := time.Since(s.startedAt)
		remaining := s.current - elapsed
		if remaining < 0 {
			remaining = 0
		}
		st.Progress = float64(elapsed) / float64(s.current)
		if st.Progress > 1 {
			st.Progress = 1
		}
		st.DurationMs = s.current.Milliseconds()
		st.RemainingMs = remaining.Milliseconds()
	}
	return st
}
