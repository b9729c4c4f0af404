// Package credential defines provider credential profiles, rate-limit
// events, and the alternate-profile selection rule used by failover.
package credential

import "time"

// Profile is one authenticated account with the upstream AI provider.
type Profile struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	IsDefault       bool      `json:"is_default"`
	IsActive        bool      `json:"is_active"`
	IsAuthenticated bool      `json:"is_authenticated"`
	Quota           Quota     `json:"quota"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Quota tracks provider usage against a per-profile limit.
type Quota struct {
	Used    int64      `json:"used"`
	Limit   int64      `json:"limit"`
	ResetAt *time.Time `json:"reset_at,omitempty"`
}

// Remaining returns how much quota is left. Zero limit means unknown,
// reported as unlimited for selection purposes.
func (q Quota) Remaining() int64 {
	if q.Limit <= 0 {
		return 1<<62 - 1
	}
	r := q.Limit - q.Used
	if r < 0 {
		return 0
	}
	return r
}

// LimitType classifies a detected provider throttle.
type LimitType string

const (
	LimitTypeRequests LimitType = "requests"
	LimitTypeTokens   LimitType = "tokens"
	LimitTypeQuota    LimitType = "quota"
)

// RateLimitEvent records one detected provider throttle tied to a source
// and, optionally, a task.
type RateLimitEvent struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	TaskID     string     `json:"task_id,omitempty"`
	ProfileID  string     `json:"profile_id"`
	LimitType  LimitType  `json:"limit_type"`
	ResetTime  *time.Time `json:"reset_time,omitempty"`
	Resolved   bool       `json:"resolved"`
	DetectedAt time.Time  `json:"detected_at"`
}

// SwapKind distinguishes swaps triggered before vs. after a hard limit.
type SwapKind string

const (
	SwapProactive SwapKind = "proactive"
	SwapReactive  SwapKind = "reactive"
)

// Swap records one credential profile switch.
type Swap struct {
	FromProfileID string    `json:"from_profile_id"`
	ToProfileID   string    `json:"to_profile_id"`
	Kind          SwapKind  `json:"kind"`
	Source        string    `json:"source"`
	TaskID        string    `json:"task_id,omitempty"`
	SwappedAt     time.Time `json:"swapped_at"`
}

// SelectAlternate picks the best profile to fail over to: the
// authenticated, non-excluded profile with the most remaining quota.
// When preferredID names a valid candidate it wins outright. Returns nil
// when no alternate exists.
func SelectAlternate(profiles []Profile, excludeID, preferredID string) *Profile {
	var best *Profile
	for i := range profiles {
		p := &profiles[i]
		if p.ID == excludeID || !p.IsAuthenticated {
			continue
		}
		if p.ID == preferredID {
			return p
		}
		if best == nil || p.Quota.Remaining() > best.Quota.Remaining() {
			best = p
		}
	}
	return best
}
