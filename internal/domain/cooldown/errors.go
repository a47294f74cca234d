package cooldown

import (
	"errors"
	"fmt"
	"time"
)

var ErrRateLimited = errors.New("alert cooldown active")

// RateLimitError carries how long the caller has to wait.
type RateLimitError struct {
	RemainingSeconds int
	Until            time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry in %d seconds", ErrRateLimited.Error(), e.RemainingSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
