// Package cooldown enforces the minimum interval between two alerts of one user.
package cooldown

import (
	"time"

	"family-alert-go/internal/domain/user"
)

const DefaultDuration = 25 * time.Minute

// IsOnCooldown reports whether the profile may not create a new alert at now.
// A cooldownEnd in the past is simply not a cooldown.
func IsOnCooldown(profile *user.Profile, now time.Time) bool {
	return profile != nil && profile.CooldownEnd != nil && profile.CooldownEnd.After(now)
}

// RemainingSeconds rounds up so a client never sees 0 while still blocked.
func RemainingSeconds(profile *user.Profile, now time.Time) int {
	if !IsOnCooldown(profile, now) {
		return 0
	}
	left := profile.CooldownEnd.Sub(now)
	seconds := int(left / time.Second)
	if left%time.Second != 0 {
		seconds++
	}
	return seconds
}
