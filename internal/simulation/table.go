package simulation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/AaronLay10/SmokersTable/internal/events"
	"github.com/AaronLay10/SmokersTable/internal/log"
)

// Capacity is the number of ingredients the table can hold.
const Capacity = 2

var (
	// ErrCapacityExceeded is returned when adding to a full table.
	ErrCapacityExceeded = errors.New("table capacity exceeded")
	// ErrTableBusy is returned when adding while a smoker holds the table.
	ErrTableBusy = errors.New("table is busy")
	// ErrTableOccupied is returned by Place when the table is not empty.
	ErrTableOccupied = errors.New("table is not empty")
)

// TableState is a point-in-time copy of the table.
type TableState struct {
	Ingredients []Ingredient `json:"ingredients"`
	Busy        bool         `json:"busy"`
	Owner       string       `json:"owner,omitempty"`
}

// Table is the single shared smoking surface. All state is guarded by mu;
// every method is atomic on its own.
type Table struct {
	mu          sync.Mutex
	ingredients []Ingredient
	busy        bool
	owner       string
	changed     chan struct{}

	logger zerolog.Logger
}

// NewTable creates an empty, free table.
func NewTable() *Table {
	return &Table{
		ingredients: make([]Ingredient, 0, Capacity),
		changed:     make(chan struct{}),
		logger:      log.WithComponent("table"),
	}
}

// notifyLocked wakes everyone waiting on Changed. Callers hold mu.
func (t *Table) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// Changed returns a channel that is closed on the next mutation of the table.
func (t *Table) Changed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// AddIngredient puts one ingredient on the table. A full or busy table
// rejects the add; the rejection is logged and emitted, never fatal.
func (t *Table) AddIngredient(ing Ingredient) error {
	t.mu.Lock()
	var err error
	switch {
	case t.busy:
		err = fmt.Errorf("add %s: %w (held by %s)", ing.ID, ErrTableBusy, t.owner)
	case len(t.ingredients) >= Capacity:
		err = fmt.Errorf("add %s: %w", ing.ID, ErrCapacityExceeded)
	default:
		t.ingredients = append(t.ingredients, ing)
		t.notifyLocked()
	}
	count := len(t.ingredients)
	t.mu.Unlock()

	if err != nil {
		t.reject(err, ing.ID)
		return err
	}

	events.Emit("info", "table.ingredient_added", "", map[string]interface{}{
		"ingredient": ing.ID,
		"count":      count,
	})
	return nil
}

// Place puts a full pair on an empty, free table in one step.
func (t *Table) Place(a, b Ingredient) error {
	t.mu.Lock()
	var err error
	switch {
	case t.busy:
		err = fmt.Errorf("place %s+%s: %w (held by %s)", a.ID, b.ID, ErrTableBusy, t.owner)
	case len(t.ingredients) != 0:
		err = fmt.Errorf("place %s+%s: %w", a.ID, b.ID, ErrTableOccupied)
	default:
		t.ingredients = append(t.ingredients, a, b)
		t.notifyLocked()
	}
	t.mu.Unlock()

	if err != nil {
		t.reject(err, a.ID, b.ID)
		return err
	}

	events.Emit("info", "supplier.placed", "", map[string]interface{}{
		"ingredients": []string{a.ID, b.ID},
	})
	return nil
}

func (t *Table) reject(err error, ingredients ...string) {
	name := "table.capacity_exceeded"
	if errors.Is(err, ErrTableBusy) {
		name = "table.busy_rejected"
	}
	t.logger.Warn().Err(err).Strs("ingredients", ingredients).Msg("supplier contract violation")
	events.Emit("warning", name, err.Error(), map[string]interface{}{
		"ingredients": ingredients,
	})
}

// Ingredients returns a copy of the table contents at the time of the call.
func (t *Table) Ingredients() []Ingredient {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Ingredient(nil), t.ingredients...)
}

// Clear empties the table.
func (t *Table) Clear() {
	t.mu.Lock()
	t.ingredients = t.ingredients[:0]
	t.notifyLocked()
	t.mu.Unlock()
}

func (t *Table) IsBusy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy
}

// SetBusy sets the busy flag directly. Smokers use TryClaim and Release
// instead; SetBusy(false) also drops any owner.
func (t *Table) SetBusy(busy bool) {
	t.mu.Lock()
	t.busy = busy
	if !busy {
		t.owner = ""
	}
	t.notifyLocked()
	t.mu.Unlock()
}

// TryClaim marks the table busy for owner if it is free and eligible
// accepts the current contents. The check and the claim happen under one
// lock, so two smokers can never both claim the same pair.
func (t *Table) TryClaim(owner string, eligible func([]Ingredient) bool) ([]Ingredient, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.busy || !eligible(t.ingredients) {
		return nil, false
	}
	t.busy = true
	t.owner = owner
	t.notifyLocked()
	return append([]Ingredient(nil), t.ingredients...), true
}

// Release ends owner's cycle: the table is cleared and freed in one step.
// It returns false, changing nothing, when owner does not hold the table.
func (t *Table) Release(owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.busy || t.owner != owner {
		return false
	}
	t.ingredients = t.ingredients[:0]
	t.busy = false
	t.owner = ""
	t.notifyLocked()
	return true
}

// Snapshot returns a copy of the whole table state.
func (t *Table) Snapshot() TableState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TableState{
		Ingredients: append([]Ingredient{}, t.ingredients...),
		Busy:        t.busy,
		Owner:       t.owner,
	}
}
