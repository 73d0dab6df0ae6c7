package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// smoker
	"smoker.created":     {},
	"smoker.started":     {},
	"smoker.finished":    {},
	"smoker.interrupted": {},
	"smoker.error":       {},
	"smoker.restored":    {},

	// table
	"table.ingredient_added":  {},
	"table.capacity_exceeded": {},
	"table.busy_rejected":     {},
	"table.claimed":           {},
	"table.cleared":           {},

	// supplier
	"supplier.placed":   {},
	"supplier.rejected": {},

	// system
	"system.startup":         {},
	"system.startup_restore": {},
	"system.shutdown":        {},
	"system.error":           {},
}

// Validate returns an error for event names outside the allow-list.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
