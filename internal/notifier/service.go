package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "hwbot/internal/transport"
	logx "hwbot/pkg/logx"
)

var ErrSendMessage = errors.New("send message failed")

const historySize = 20

// Service sends notifications to one chat. It is safe for concurrent use;
// concurrent Notify calls are serialized.
type Service struct {
	sendMu sync.Mutex

	log    logx.Logger
	sender kit.Sender
	target kit.ChatTarget

	cfg     Config
	limiter *rate.Limiter
	rng     *rand.Rand
	sleep   func(ctx context.Context, d time.Duration) error

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, target kit.ChatTarget, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = withDefaults(cfg)
	return &Service{
		log:    log,
		sender: sender,
		target: target,
		cfg:    cfg,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   sleepCtx,
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = def.RatePerSec
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	return cfg
}

// Target returns the recipient.
func (s *Service) Target() kit.ChatTarget { return s.target }

// Notify makes one outbound send of text to the recipient. A failure is
// resent, up to RetryMax times, only when the request never reached the
// platform. The returned error wraps ErrSendMessage.
func (s *Service) Notify(ctx context.Context, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.sender == nil {
		return fmt.Errorf("%w: no transport configured", ErrSendMessage)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.log.Debug("sending message", logx.String("chat_id", s.target.ChatID), logx.Int("len", len(text)))

	opts := &kit.SendOptions{DisablePreview: s.cfg.DisablePreview}
	maxAttempts := 1 + s.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrSendMessage, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		ref, err := s.sender.SendText(callCtx, s.target, text, opts)
		cancel()
		if err == nil {
			s.appendHistory(text)
			s.log.Debug("message sent", logx.Int("message_id", ref.MessageID), logx.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		s.log.Debug("send attempt failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		if !kit.Retryable(err) {
			break
		}
		if err := s.sleep(ctx, s.retryDelay(attempt, err)); err != nil {
			break
		}
	}
	return fmt.Errorf("%w: chat %s: %w", ErrSendMessage, s.target.ChatID, lastErr)
}

// retryDelay returns the wait before the attempt after `attempt` (1-based).
// A platform retry hint wins over the backoff, bounded by RetryMaxDelay.
func (s *Service) retryDelay(attempt int, err error) time.Duration {
	maxD := s.cfg.RetryMaxDelay
	if hint, ok := kit.RetryDelay(err); ok {
		if hint > maxD {
			return maxD
		}
		return hint
	}

	// Exponential backoff: base * 2^(attempt-1)
	d := s.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + s.rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}

// History returns recently delivered messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
