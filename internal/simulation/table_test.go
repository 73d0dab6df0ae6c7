package simulation

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func always([]Ingredient) bool { return true }

func TestAddIngredientRespectsCapacity(t *testing.T) {
	tbl := NewTable()

	require.NoError(t, tbl.AddIngredient(Paper))
	require.NoError(t, tbl.AddIngredient(Matches))

	err := tbl.AddIngredient(Tobacco)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	assert.Equal(t, []Ingredient{Paper, Matches}, tbl.Ingredients())
}

func TestAddIngredientRejectedWhileBusy(t *testing.T) {
	tbl := NewTable()
	tbl.SetBusy(true)

	err := tbl.AddIngredient(Paper)
	assert.ErrorIs(t, err, ErrTableBusy)
	assert.Empty(t, tbl.Ingredients())

	tbl.SetBusy(false)
	assert.NoError(t, tbl.AddIngredient(Paper))
}

func TestPlace(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Place(Paper, Matches))
	assert.ErrorIs(t, tbl.Place(Tobacco, Paper), ErrTableOccupied)

	tbl.Clear()
	tbl.SetBusy(true)
	assert.ErrorIs(t, tbl.Place(Tobacco, Paper), ErrTableBusy)
	assert.Empty(t, tbl.Ingredients())
}

func TestTryClaimAndRelease(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Place(Paper, Matches))

	tobacco := func(on []Ingredient) bool { return Eligible(Tobacco, on) }
	paper := func(on []Ingredient) bool { return Eligible(Paper, on) }

	_, ok := tbl.TryClaim("paper", paper)
	assert.False(t, ok, "paper smoker must not claim a table holding paper")
	assert.False(t, tbl.IsBusy())

	claimed, ok := tbl.TryClaim("tobacco", tobacco)
	require.True(t, ok)
	assert.Equal(t, []Ingredient{Paper, Matches}, claimed)

	st := tbl.Snapshot()
	assert.True(t, st.Busy)
	assert.Equal(t, "tobacco", st.Owner)

	_, ok = tbl.TryClaim("other", always)
	assert.False(t, ok, "busy table must not be claimed twice")

	assert.False(t, tbl.Release("other"), "only the owner may release")
	assert.True(t, tbl.IsBusy())

	assert.True(t, tbl.Release("tobacco"))
	st = tbl.Snapshot()
	assert.False(t, st.Busy)
	assert.Empty(t, st.Owner)
	assert.Empty(t, st.Ingredients)

	assert.False(t, tbl.Release("tobacco"), "second release is a no-op")
}

func TestTryClaimHasSingleWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		tbl := NewTable()
		require.NoError(t, tbl.Place(Paper, Matches))

		var (
			wg      sync.WaitGroup
			winners atomic.Int32
			start   = make(chan struct{})
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, ok := tbl.TryClaim("contender", always); ok {
					winners.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.EqualValues(t, 1, winners.Load(), "round %d", round)
	}
}

func TestCapacityHoldsUnderConcurrentAdds(t *testing.T) {
	tbl := NewTable()

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tbl.AddIngredient(Tobacco)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrCapacityExceeded):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
			assert.LessOrEqual(t, len(tbl.Ingredients()), Capacity)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, Capacity, accepted.Load())
	assert.EqualValues(t, 32-Capacity, rejected.Load())
	assert.Len(t, tbl.Ingredients(), Capacity)
}

func TestChangedClosesOnMutation(t *testing.T) {
	tbl := NewTable()

	ch := tbl.Changed()
	select {
	case <-ch:
		t.Fatal("changed closed before any mutation")
	default:
	}

	require.NoError(t, tbl.AddIngredient(Paper))
	select {
	case <-ch:
	default:
		t.Fatal("changed not closed after AddIngredient")
	}

	next := tbl.Changed()
	assert.NotEqual(t, ch, next, "a fresh channel is handed out after each mutation")

	// A rejected claim does not wake anyone.
	_, _ = tbl.TryClaim("x", func([]Ingredient) bool { return false })
	select {
	case <-next:
		t.Fatal("failed claim must not notify")
	default:
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Place(Paper, Matches))

	snap := tbl.Ingredients()
	snap[0] = Tobacco
	assert.Equal(t, Paper, tbl.Ingredients()[0])

	st := tbl.Snapshot()
	tbl.Clear()
	assert.Len(t, st.Ingredients, 2, "snapshot must survive later mutations")
}
