// Package health tracks per-resource reliability and picks which resource to
// try next for an ISBN.
package health

import (
	"time"
)

// Status gates whether a resource is eligible for selection.
type Status string

// Resource statuses.
const (
	StatusAvailable   Status = "available"
	StatusRateLimited Status = "rate_limited"
	StatusError       Status = "error"
	StatusDisabled    Status = "disabled"
)

// AllStatuses lists every status, used for metric label sets.
var AllStatuses = []string{
	string(StatusAvailable),
	string(StatusRateLimited),
	string(StatusError),
	string(StatusDisabled),
}

// Stats are the rolling counters kept for one resource.
type Stats struct {
	Attempts          int           `json:"attempts"`
	Successes         int           `json:"successes"`
	Failures          int           `json:"failures"`
	RateLimitEvents   int           `json:"rate_limit_events"`
	TotalResponseTime time.Duration `json:"total_response_time"`
	LastUsed          time.Time     `json:"last_used,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
}

// SuccessRate is successes/attempts, or 1.0 before the first attempt.
func (s Stats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 1.0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// AvgResponseTime is the mean response time across attempts.
func (s Stats) AvgResponseTime() time.Duration {
	if s.Attempts == 0 {
		return 0
	}
	return s.TotalResponseTime / time.Duration(s.Attempts)
}

// Availability blends success rate (60%), an error penalty of up to 20%
// applied once more than ten attempts exist, and a recency bonus of up to
// 20%. The result is clamped to [0,1].
func (s Stats) Availability(now time.Time) float64 {
	score := s.SuccessRate() * 0.6
	if s.Attempts > 10 {
		errRate := float64(s.Failures) / float64(s.Attempts)
		score -= min(errRate*0.2, 0.2)
	}
	if !s.LastUsed.IsZero() {
		switch since := now.Sub(s.LastUsed); {
		case since < time.Hour:
			score += 0.2
		case since < 24*time.Hour:
			score += 0.1
		}
	}
	return max(0, min(1, score))
}
