package export

import (
	"errors"
	"fmt"
	"time"
)

// ErrExportInFlight is returned when an export for the same key is already
// running.
var ErrExportInFlight = errors.New("an export for this key is already in flight")

// CooldownError is returned when a key is exported again before its
// cooldown has elapsed.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("export on cooldown for another %s", e.Remaining.Round(time.Second))
}
