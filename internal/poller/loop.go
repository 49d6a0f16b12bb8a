package poller

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"hwbot/internal/eventbus"
	"hwbot/internal/homework"
	logx "hwbot/pkg/logx"
)

// Fetcher queries the status API for changes since the watermark.
type Fetcher interface {
	Fetch(ctx context.Context, since int64) (any, error)
}

// Notifier delivers one message to the recipient.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Options struct {
	Interval time.Duration
	Log      logx.Logger
	// Bus receives a TypePollCycle event after every cycle. Optional.
	Bus eventbus.Bus

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// Loop is the poll loop. Cycle and Run must not be called concurrently.
type Loop struct {
	fetch  Fetcher
	notify Notifier
	sched  cron.Schedule
	bus    eventbus.Bus
	log    logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string

	state State
}

func New(fetch Fetcher, notify Notifier, opts Options) (*Loop, error) {
	if fetch == nil || notify == nil {
		return nil, errors.New("poller: fetcher and notifier required")
	}
	if opts.Interval < time.Second {
		return nil, errors.New("poller: interval must be at least 1s")
	}
	l := &Loop{
		fetch:  fetch,
		notify: notify,
		sched:  newSchedule(opts.Interval),
		bus:    opts.Bus,
		log:    opts.Log,
		now:    opts.now,
		sleep:  opts.sleep,
		newID:  opts.newID,
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.sleep == nil {
		l.sleep = sleepCtx
	}
	if l.newID == nil {
		l.newID = uuid.NewString
	}
	// First lookback window covers one interval.
	l.state.Since = l.now().Add(-scheduleDelay(l.sched)).Unix()
	return l, nil
}

// State returns a copy of the loop state.
func (l *Loop) State() State { return l.state }

// Run executes cycles separated by the fixed interval until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("poll loop started",
		logx.Duration("interval", scheduleDelay(l.sched)),
		logx.Int64("since", l.state.Since),
	)
	defer l.log.Info("poll loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		rep := l.Cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := rep.Next.Sub(l.now())
		if wait < 0 {
			wait = 0
		}
		if err := l.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// Cycle runs one poll cycle and returns its report. Errors never escape: they
// are logged and reported to the recipient once per distinct text.
func (l *Loop) Cycle(ctx context.Context) CycleReport {
	start := l.now()
	rep := CycleReport{
		ID:      l.newID(),
		Started: start,
		Since:   l.state.Since,
	}
	log := l.log.With(logx.String("cycle", rep.ID))
	log.Debug("poll cycle started", logx.Int64("since", rep.Since))

	err := l.poll(ctx, log, &rep)
	switch {
	case err == nil:
		l.state.Since = start.Unix()
	case ctx.Err() != nil:
		rep.Outcome = OutcomeCanceled
		rep.Err = err
		rep.FailureKind = FailureKind(err)
		log.Debug("poll cycle interrupted", logx.Err(err))
	default:
		l.fail(ctx, log, err, &rep)
	}

	end := l.now()
	rep.Duration = end.Sub(start)
	rep.Watermark = l.state.Since
	rep.Next = l.sched.Next(end)
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.TypePollCycle, Time: end, Data: rep})
	}
	return rep
}

func (l *Loop) poll(ctx context.Context, log logx.Logger, rep *CycleReport) error {
	payload, err := l.fetch.Fetch(ctx, rep.Since)
	if err != nil {
		return err
	}
	records, err := homework.Validate(payload)
	if err != nil {
		return err
	}
	rep.Records = len(records)
	if len(records) == 0 {
		rep.Outcome = OutcomeIdle
		log.Debug("no new status")
		return nil
	}

	// The API returns at most one relevant change per window.
	rec := records[0]
	msg, err := homework.Parse(rec)
	if err != nil {
		return err
	}
	rep.Message = msg
	if msg == l.state.LastNotified {
		rep.Outcome = OutcomeDuplicate
		log.Debug("duplicate status suppressed", logx.String("homework", rec.Name), logx.String("status", rec.Status))
		return nil
	}
	if err := l.notify.Notify(ctx, msg); err != nil {
		return err
	}
	l.state.LastNotified = msg
	rep.Outcome = OutcomeNotified
	log.Info("status notification sent",
		logx.String("homework", rec.Name),
		logx.String("status", rec.Status),
		logx.String("lesson", rec.LessonName),
	)
	return nil
}

func (l *Loop) fail(ctx context.Context, log logx.Logger, err error, rep *CycleReport) {
	rep.Outcome = OutcomeFailed
	rep.Err = err
	rep.FailureKind = FailureKind(err)
	log.Error("poll cycle failed", logx.String("kind", rep.FailureKind), logx.Err(err))

	text := ErrorMessage(err)
	if text == l.state.LastError {
		log.Debug("duplicate error suppressed")
		return
	}
	// Recorded before sending so a failing recipient is not retried with the
	// same text every cycle.
	l.state.LastError = text
	if nerr := l.notify.Notify(ctx, text); nerr != nil {
		log.Error("error notification failed", logx.Err(nerr))
		return
	}
	rep.ErrorNotified = true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
