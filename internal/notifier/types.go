package notifier

import "time"

// Config controls delivery.
type Config struct {
	RatePerSec int
	// RetryMax bounds resends of failures that provably never reached the
	// platform (see transport.Retryable). Other failures are never resent.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// DisablePreview suppresses link previews in sent messages.
	DisablePreview bool
}

// DefaultConfig returns the delivery defaults.
func DefaultConfig() Config {
	return Config{
		RatePerSec:     1,
		RetryMax:       0,
		RetryBase:      500 * time.Millisecond,
		RetryMaxDelay:  10 * time.Second,
		SendTimeout:    10 * time.Second,
		DisablePreview: true,
	}
}

type HistoryItem struct {
	At   time.Time
	Text string
}
