package resilience

import "time"

// RequeuePolicy decides whether a previously failed document is eligible for
// another pipeline attempt during a sweep.
type RequeuePolicy struct {
	// MaxAttempts caps total pipeline attempts per document. Default: 3.
	MaxAttempts int

	// Cooldown is the minimum time since the last failure before a retry.
	// Default: 15m.
	Cooldown time.Duration

	// RetryPermanent allows retrying documents whose failure was classified
	// permanent. Off by default.
	RetryPermanent bool
}

// DefaultRequeuePolicy returns the sweep retry defaults.
func DefaultRequeuePolicy() RequeuePolicy {
	return RequeuePolicy{
		MaxAttempts: 3,
		Cooldown:    15 * time.Minute,
	}
}

// Eligible reports whether a failed document may be requeued given its
// attempt count, last failure time and error classification.
func (p RequeuePolicy) Eligible(attempts int, lastFailedAt time.Time, errorType string, now time.Time) bool {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if attempts >= maxAttempts {
		return false
	}
	if errorType == "permanent" && !p.RetryPermanent {
		return false
	}
	cooldown := p.Cooldown
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return !lastFailedAt.IsZero() && now.Sub(lastFailedAt) >= cooldown
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
