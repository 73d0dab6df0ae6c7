package simulation

import (
	"errors"
	"fmt"
)

// ErrUnknownIngredient is returned when an id is not in the catalog.
var ErrUnknownIngredient = errors.New("unknown ingredient")

// Ingredient identifies an ingredient type. Label is display-only.
type Ingredient struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// Same reports whether two ingredients are of the same type.
func (i Ingredient) Same(o Ingredient) bool {
	return i.ID == o.ID
}

func (i Ingredient) String() string {
	return i.ID
}

// The classic ingredients.
var (
	Tobacco = Ingredient{ID: "tobacco", Label: "Tobacco"}
	Paper   = Ingredient{ID: "paper", Label: "Paper"}
	Matches = Ingredient{ID: "matches", Label: "Matches"}
)

// Catalog is the ordered set of ingredient types known to a simulation.
type Catalog []Ingredient

// Lookup returns the catalog entry for id.
func (c Catalog) Lookup(id string) (Ingredient, error) {
	for _, ing := range c {
		if ing.ID == id {
			return ing, nil
		}
	}
	return Ingredient{}, fmt.Errorf("%w: %q", ErrUnknownIngredient, id)
}

// Resolve maps ids to catalog entries.
func (c Catalog) Resolve(ids ...string) ([]Ingredient, error) {
	out := make([]Ingredient, 0, len(ids))
	for _, id := range ids {
		ing, err := c.Lookup(id)
		if err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, nil
}

// Complement returns every catalog entry other than own. With the classic
// three ingredients this is the pair a smoker owning own is waiting for.
func (c Catalog) Complement(own Ingredient) []Ingredient {
	out := make([]Ingredient, 0, len(c))
	for _, ing := range c {
		if !ing.Same(own) {
			out = append(out, ing)
		}
	}
	return out
}

func ids(ings []Ingredient) []string {
	out := make([]string, len(ings))
	for i, ing := range ings {
		out[i] = ing.ID
	}
	return out
}
