package activity

import "time"

// RetryPolicy controls how many attempts an invocation gets and how the
// wait between attempts grows.
type RetryPolicy struct {
	MaxAttempts    int           `json:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	BackoffFactor  float64       `json:"backoff_factor"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

// DefaultRetryPolicy returns the policy applied when an invocation carries none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		BackoffFactor:  2.0,
		MaxBackoff:     30 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = def.BackoffFactor
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	return p
}

// backoffForAttempt returns the wait before retrying after attempt (0-based).
func backoffForAttempt(p RetryPolicy, attempt int) time.Duration {
	backoff := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		if backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}
