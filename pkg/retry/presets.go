package retry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Per-collaborator presets. They differ only in numbers and eligibility.

var voiceClassifier = Classifier{
	TransientCodes: map[string]bool{"queue_overflow": true, "carrier_unavailable": true, "rate_limited": true},
	TerminalCodes:  map[string]bool{"invalid_number": true, "number_blocked": true},
}

var smsClassifier = Classifier{
	TransientCodes: map[string]bool{"queue_overflow": true, "carrier_unavailable": true, "rate_limited": true},
	TerminalCodes:  map[string]bool{"invalid_number": true, "unsubscribed": true},
}

var pushClassifier = Classifier{
	TransientCodes: map[string]bool{"rate_limited": true},
	TerminalCodes:  map[string]bool{"invalid_token": true, "blocked_by_user": true},
}

// VoicePolicy is used for outbound voice calls.
func VoicePolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialDelay:   time.Second,
		MaxDelay:       10 * time.Second,
		Multiplier:     2,
		Jitter:         true,
		AttemptTimeout: 30 * time.Second,
		Retryable:      voiceClassifier.Retryable,
	}
}

// SMSPolicy is used for outbound SMS.
func SMSPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2,
		Jitter:         true,
		AttemptTimeout: 15 * time.Second,
		Retryable:      smsClassifier.Retryable,
	}
}

// PushPolicy is used for chat-app push messages.
func PushPolicy() Policy {
	return Policy{
		MaxRetries:     2,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       4 * time.Second,
		Multiplier:     2,
		Jitter:         true,
		AttemptTimeout: 10 * time.Second,
		Retryable:      pushClassifier.Retryable,
	}
}

// HeatPolicy is used for heat-index lookups.
func HeatPolicy() Policy {
	return Policy{
		MaxRetries:     2,
		InitialDelay:   time.Second,
		MaxDelay:       8 * time.Second,
		Multiplier:     2,
		Jitter:         true,
		AttemptTimeout: 10 * time.Second,
	}
}

// IdempotencyKey returns an opaque key of the form prefix_<unixmillis>_<random>.
func IdempotencyKey(prefix string, now time.Time) string {
	random := uuid.New().String()[:8]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), random)
}
