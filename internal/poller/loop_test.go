package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"hwbot/internal/eventbus"
	"hwbot/internal/homework"
	"hwbot/internal/notifier"
	"hwbot/internal/statusapi"
	kit "hwbot/internal/transport"
	telegram "hwbot/internal/transport/telegram/adapter"
	logx "hwbot/pkg/logx"
)

const approvedMsg = `Status of submission "hw1" changed. Работа проверена: ревьюеру всё понравилось. Ура!`

type fetchResult struct {
	payload any
	err     error
}

type scriptFetcher struct {
	results []fetchResult
	since   []int64
}

func (f *scriptFetcher) Fetch(ctx context.Context, since int64) (any, error) {
	f.since = append(f.since, since)
	if len(f.results) == 0 {
		return map[string]any{"homeworks": []any{}}, nil
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.payload, r.err
}

type recNotifier struct {
	sent   []string
	failOn func(text string) bool
}

func (n *recNotifier) Notify(ctx context.Context, text string) error {
	if n.failOn != nil && n.failOn(text) {
		return fmt.Errorf("%w: chat not found", notifier.ErrSendMessage)
	}
	n.sent = append(n.sent, text)
	return nil
}

func homeworks(items ...map[string]any) any {
	list := make([]any, 0, len(items))
	for _, it := range items {
		list = append(list, it)
	}
	return map[string]any{"homeworks": list, "current_date": 1}
}

func approved() any {
	return homeworks(map[string]any{"homework_name": "hw1", "status": "approved"})
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestLoop(t *testing.T, f Fetcher, n Notifier, bus eventbus.Bus) (*Loop, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	ids := 0
	l, err := New(f, n, Options{
		Interval: 10 * time.Minute,
		Log:      logx.Nop(),
		Bus:      bus,
		now:      clock.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			clock.t = clock.t.Add(d)
			return ctx.Err()
		},
		newID: func() string {
			ids++
			return fmt.Sprintf("c%d", ids)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, clock
}

func TestInitialWatermarkIsOneIntervalBack(t *testing.T) {
	l, clock := newTestLoop(t, &scriptFetcher{}, &recNotifier{}, nil)
	if want := clock.t.Add(-10 * time.Minute).Unix(); l.State().Since != want {
		t.Fatalf("Since = %d, want %d", l.State().Since, want)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(nil, &recNotifier{}, Options{Interval: time.Minute}); err == nil {
		t.Fatal("nil fetcher accepted")
	}
	if _, err := New(&scriptFetcher{}, &recNotifier{}, Options{Interval: 10 * time.Millisecond}); err == nil {
		t.Fatal("sub-second interval accepted")
	}
}

func TestCycleEmptyListAdvancesWatermark(t *testing.T) {
	n := &recNotifier{}
	l, clock := newTestLoop(t, &scriptFetcher{}, n, nil)

	rep := l.Cycle(context.Background())
	if rep.Outcome != OutcomeIdle || rep.Records != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(n.sent) != 0 {
		t.Fatalf("unexpected sends %v", n.sent)
	}
	if l.State().Since != clock.t.Unix() {
		t.Fatalf("watermark = %d, want %d", l.State().Since, clock.t.Unix())
	}
}

func TestCycleSendsStatusChange(t *testing.T) {
	n := &recNotifier{}
	f := &scriptFetcher{results: []fetchResult{{payload: approved()}}}
	l, clock := newTestLoop(t, f, n, nil)
	start := clock.t

	rep := l.Cycle(context.Background())
	if rep.Outcome != OutcomeNotified {
		t.Fatalf("outcome = %s (%v)", rep.Outcome, rep.Err)
	}
	if len(n.sent) != 1 || n.sent[0] != approvedMsg {
		t.Fatalf("sent = %q", n.sent)
	}
	st := l.State()
	if st.LastNotified != approvedMsg || st.Since != start.Unix() {
		t.Fatalf("state = %+v", st)
	}
}

func TestCycleSuppressesDuplicateStatus(t *testing.T) {
	n := &recNotifier{}
	f := &scriptFetcher{results: []fetchResult{{payload: approved()}}}
	l, clock := newTestLoop(t, f, n, nil)
	var logs bytes.Buffer
	l.log = logx.NewWriter(&logs, "debug")

	l.Cycle(context.Background())
	if strings.Contains(logs.String(), "duplicate status suppressed") {
		t.Fatal("first delivery logged as duplicate")
	}
	clock.t = clock.t.Add(10 * time.Minute)
	rep := l.Cycle(context.Background())

	if rep.Outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %s", rep.Outcome)
	}
	if !strings.Contains(logs.String(), "duplicate status suppressed") {
		t.Fatalf("log does not mention the suppressed duplicate:\n%s", logs.String())
	}
	if len(n.sent) != 1 {
		t.Fatalf("sent = %q, want one message", n.sent)
	}
	if l.State().Since != clock.t.Unix() {
		t.Fatal("duplicate cycle must still advance the watermark")
	}
}

func TestCycleParsesFirstRecordOnly(t *testing.T) {
	n := &recNotifier{}
	f := &scriptFetcher{results: []fetchResult{{payload: homeworks(
		map[string]any{"homework_name": "hw1", "status": "approved"},
		map[string]any{"homework_name": "hw2", "status": "bogus"},
	)}}}
	l, _ := newTestLoop(t, f, n, nil)

	if rep := l.Cycle(context.Background()); rep.Outcome != OutcomeNotified || rep.Records != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if len(n.sent) != 1 || n.sent[0] != approvedMsg {
		t.Fatalf("sent = %q", n.sent)
	}
}

func TestEndpointFailureReportedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := statusapi.New(statusapi.Config{Endpoint: srv.URL, Token: "t", Timeout: time.Second}, srv.Client(), logx.Nop())
	if err != nil {
		t.Fatalf("statusapi.New: %v", err)
	}
	n := &recNotifier{}
	l, clock := newTestLoop(t, client, n, nil)
	before := l.State().Since

	for i := 0; i < 3; i++ {
		rep := l.Cycle(context.Background())
		if rep.Outcome != OutcomeFailed || rep.FailureKind != "endpoint" {
			t.Fatalf("cycle %d: report = %+v", i, rep)
		}
		if !errors.Is(rep.Err, statusapi.ErrEndpoint) {
			t.Fatalf("cycle %d: err = %v", i, rep.Err)
		}
		clock.t = clock.t.Add(10 * time.Minute)
	}

	if len(n.sent) != 1 {
		t.Fatalf("sent = %q, want one error notification", n.sent)
	}
	if !strings.HasPrefix(n.sent[0], ErrorPrefix) || !strings.Contains(n.sent[0], "503") {
		t.Fatalf("error notification = %q", n.sent[0])
	}
	if l.State().Since != before {
		t.Fatal("failed cycles must not move the watermark")
	}
}

func TestDroppedBotConnectionKeepsTokenOutOfChat(t *testing.T) {
	const token = "123456:SECRET-BOT-TOKEN"
	var (
		mu    sync.Mutex
		calls int
		texts []string
	)
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			// Drop the status send mid-request.
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
				}
			}
			return
		}
		var params map[string]any
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &params)
		if s, ok := params["text"].(string); ok {
			texts = append(texts, s)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer bot.Close()

	ad, err := telegram.New(telegram.Config{Token: token, APIURL: bot.URL, Timeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("telegram.New: %v", err)
	}
	n := notifier.New(notifier.DefaultConfig(), ad, kit.ChatTarget{ChatID: "42"}, logx.Nop())
	f := &scriptFetcher{results: []fetchResult{{payload: approved()}}}
	l, _ := newTestLoop(t, f, n, nil)
	var logs bytes.Buffer
	l.log = logx.NewWriter(&logs, "debug")

	rep := l.Cycle(context.Background())
	if rep.Outcome != OutcomeFailed || !rep.ErrorNotified {
		t.Fatalf("report = %+v", rep)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("bot API calls = %d, want status attempt + error notification", calls)
	}
	if len(texts) != 1 || !strings.HasPrefix(texts[0], ErrorPrefix) {
		t.Fatalf("delivered = %q", texts)
	}
	if strings.Contains(texts[0], "SECRET") {
		t.Fatalf("bot token delivered to chat: %q", texts[0])
	}
	if strings.Contains(logs.String(), "SECRET") {
		t.Fatalf("bot token written to log:\n%s", logs.String())
	}
}

func TestFailedCycleRetriesSameWindow(t *testing.T) {
	f := &scriptFetcher{results: []fetchResult{
		{err: fmt.Errorf("%w: connection refused", statusapi.ErrRequest)},
		{payload: approved()},
	}}
	l, clock := newTestLoop(t, f, &recNotifier{}, nil)

	l.Cycle(context.Background())
	clock.t = clock.t.Add(10 * time.Minute)
	l.Cycle(context.Background())

	if len(f.since) != 2 || f.since[0] != f.since[1] {
		t.Fatalf("since values = %v, want the same window twice", f.since)
	}
}

func TestStatusAndErrorDedupAreIndependent(t *testing.T) {
	boom := fmt.Errorf("%w: empty", homework.ErrEmptyResponse)
	f := &scriptFetcher{results: []fetchResult{
		{err: boom},
		{payload: approved()},
		{err: boom},
		{payload: approved()},
		{err: errors.New("different")},
	}}
	n := &recNotifier{}
	l, _ := newTestLoop(t, f, n, nil)

	for i := 0; i < 5; i++ {
		l.Cycle(context.Background())
	}

	want := []string{
		ErrorMessage(boom),
		approvedMsg,
		ErrorMessage(errors.New("different")),
	}
	if strings.Join(n.sent, "|") != strings.Join(want, "|") {
		t.Fatalf("sent = %q\nwant  %q", n.sent, want)
	}
}

func TestStatusSendFailureFoldsIntoErrorBranch(t *testing.T) {
	n := &recNotifier{failOn: func(text string) bool { return text == approvedMsg }}
	f := &scriptFetcher{results: []fetchResult{{payload: approved()}}}
	l, _ := newTestLoop(t, f, n, nil)
	before := l.State().Since

	rep := l.Cycle(context.Background())
	if rep.Outcome != OutcomeFailed || rep.FailureKind != "send_message" || !rep.ErrorNotified {
		t.Fatalf("report = %+v", rep)
	}
	st := l.State()
	if st.LastNotified != "" || st.Since != before {
		t.Fatalf("state = %+v", st)
	}
	if len(n.sent) != 1 || !strings.HasPrefix(n.sent[0], ErrorPrefix) {
		t.Fatalf("sent = %q", n.sent)
	}

	// Recipient recovers: the status is delivered on the next cycle.
	n.failOn = nil
	if rep := l.Cycle(context.Background()); rep.Outcome != OutcomeNotified {
		t.Fatalf("second cycle = %+v", rep)
	}
}

func TestErrorNotificationFailureIsSwallowed(t *testing.T) {
	n := &recNotifier{failOn: func(string) bool { return true }}
	f := &scriptFetcher{results: []fetchResult{{err: fmt.Errorf("%w: timeout", statusapi.ErrRequest)}}}
	l, _ := newTestLoop(t, f, n, nil)

	rep := l.Cycle(context.Background())
	if rep.Outcome != OutcomeFailed || rep.ErrorNotified {
		t.Fatalf("report = %+v", rep)
	}
	if l.State().LastError == "" {
		t.Fatal("LastError must be recorded even when the send fails")
	}
}

func TestCyclePublishesReport(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()
	l, _ := newTestLoop(t, &scriptFetcher{}, &recNotifier{}, bus)

	l.Cycle(context.Background())
	select {
	case ev := <-ch:
		rep, ok := ev.Data.(CycleReport)
		if ev.Type != eventbus.TypePollCycle || !ok || rep.ID != "c1" || rep.Outcome != OutcomeIdle {
			t.Fatalf("event = %+v", ev)
		}
		if rep.Next.Sub(rep.Started) != 10*time.Minute {
			t.Fatalf("next = %v, started = %v", rep.Next, rep.Started)
		}
	default:
		t.Fatal("no event published")
	}
}

func TestRunSleepsIntervalAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &scriptFetcher{}
	l, clock := newTestLoop(t, f, &recNotifier{}, nil)
	var waits []time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		clock.t = clock.t.Add(d)
		if len(waits) == 3 {
			cancel()
		}
		return ctx.Err()
	}

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.since) != 3 {
		t.Fatalf("cycles = %d, want 3", len(f.since))
	}
	for _, w := range waits {
		if w != 10*time.Minute {
			t.Fatalf("waits = %v", waits)
		}
	}
}

func TestCanceledCycleSendsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := &recNotifier{}
	f := &scriptFetcher{results: []fetchResult{{err: fmt.Errorf("%w: %w", statusapi.ErrRequest, context.Canceled)}}}
	l, _ := newTestLoop(t, f, n, nil)

	rep := l.Cycle(ctx)
	if rep.Outcome != OutcomeCanceled || len(n.sent) != 0 {
		t.Fatalf("report = %+v sent = %q", rep, n.sent)
	}
}

func TestFailureKind(t *testing.T) {
	cases := map[string]error{
		"":               nil,
		"endpoint":       fmt.Errorf("%w: 503", statusapi.ErrEndpoint),
		"request":        fmt.Errorf("%w: dial", statusapi.ErrRequest),
		"type_mismatch":  homework.ErrTypeMismatch,
		"empty_response": homework.ErrEmptyResponse,
		"missing_field":  homework.ErrMissingField,
		"unknown_status": homework.ErrUnknownStatus,
		"send_message":   notifier.ErrSendMessage,
		"canceled":       context.Canceled,
		"unknown":        errors.New("x"),
	}
	for want, err := range cases {
		if got := FailureKind(err); got != want {
			t.Fatalf("FailureKind(%v) = %q, want %q", err, got, want)
		}
	}
}
