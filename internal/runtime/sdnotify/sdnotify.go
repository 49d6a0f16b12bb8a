// Package sdnotify reports readiness, status and watchdog pings to systemd
// for Type=notify units. Outside systemd every call is a no-op.
package sdnotify

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"hwbot/internal/eventbus"
	"hwbot/internal/poller"
	logx "hwbot/pkg/logx"
)

// DefaultCycleGrace bounds how long one poll cycle may run past its
// scheduled start before the watchdog stops being fed.
const DefaultCycleGrace = 2 * time.Minute

// Reporter feeds the systemd watchdog only while poll cycles keep finishing
// on schedule: a stuck cycle lets the watchdog fire.
type Reporter struct {
	bus   eventbus.Bus
	log   logx.Logger
	grace time.Duration

	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)
	now      func() time.Time

	// deadline is when the next cycle report is due. Run goroutine only.
	deadline time.Time
}

// New returns a reporter. grace <= 0 means DefaultCycleGrace.
func New(bus eventbus.Bus, grace time.Duration, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	if grace <= 0 {
		grace = DefaultCycleGrace
	}
	return &Reporter{
		bus:      bus,
		log:      log,
		grace:    grace,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
		now:      time.Now,
	}
}

// Ready sends READY=1 with an initial status line.
func (r *Reporter) Ready(status string) {
	r.send(daemon.SdNotifyReady + "\nSTATUS=" + status)
}

// Stopping sends STOPPING=1.
func (r *Reporter) Stopping() {
	r.send(daemon.SdNotifyStopping)
}

// Run forwards bus events as STATUS= lines and pings the watchdog at half
// its timeout, while cycles are on time, until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	// The first cycle starts right away.
	r.deadline = r.now().Add(r.grace)

	var events <-chan eventbus.Event
	if r.bus != nil {
		ch, unsub := r.bus.Subscribe(4)
		defer unsub()
		events = ch
	}

	var tick <-chan time.Time
	if d, err := r.watchdog(); err != nil {
		r.log.Warn("systemd watchdog check failed", logx.Err(err))
	} else if d > 0 {
		t := time.NewTicker(d / 2)
		defer t.Stop()
		tick = t.C
		r.log.Debug("systemd watchdog enabled", logx.Duration("timeout", d))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if r.healthy(r.now()) {
				r.send(daemon.SdNotifyWatchdog)
			} else {
				r.log.Warn("poll cycle overdue; withholding watchdog ping", logx.Time("due", r.deadline))
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.observe(ev)
			if status := StatusLine(ev); status != "" {
				r.send("STATUS=" + status)
			}
		}
	}
}

// observe moves the deadline to the next scheduled cycle plus grace.
func (r *Reporter) observe(ev eventbus.Event) {
	rep, ok := ev.Data.(poller.CycleReport)
	if !ok || ev.Type != eventbus.TypePollCycle {
		return
	}
	next := rep.Next
	if next.IsZero() {
		next = r.now()
	}
	r.deadline = next.Add(r.grace)
}

func (r *Reporter) healthy(now time.Time) bool {
	return !now.After(r.deadline)
}

// StatusLine renders the systemd status for ev, or "" to skip it.
func StatusLine(ev eventbus.Event) string {
	switch ev.Type {
	case eventbus.TypePollCycle:
		rep, ok := ev.Data.(poller.CycleReport)
		if !ok {
			return ""
		}
		line := fmt.Sprintf("last poll %s: %s", rep.Started.Format(time.TimeOnly), rep.Outcome)
		if rep.FailureKind != "" && rep.Outcome == poller.OutcomeFailed {
			line += " (" + rep.FailureKind + ")"
		}
		if !rep.Next.IsZero() {
			line += "; next " + rep.Next.Format(time.TimeOnly)
		}
		return line
	case eventbus.TypeConfigReloaded:
		return "settings reloaded"
	}
	return ""
}

func (r *Reporter) send(state string) {
	sent, err := r.notify(state)
	if err != nil {
		r.log.Warn("systemd notify failed", logx.Err(err))
		return
	}
	if sent {
		r.log.Trace("systemd notified", logx.String("state", state))
	}
}
