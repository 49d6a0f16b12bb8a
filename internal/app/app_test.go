package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hwbot/internal/config"
)

func testEnv() func(string) (string, bool) {
	env := map[string]string{
		config.EnvPracticumToken: "p-token",
		config.EnvTelegramToken:  "123:abc",
		config.EnvTelegramChatID: "100500",
	}
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "hwbot.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewMissingCredentials(t *testing.T) {
	_, err := New(Options{LookupEnv: func(string) (string, bool) { return "", false }})
	if !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
}

func TestStartDeliversStatusChange(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "OAuth p-token" || r.URL.Query().Get("from_date") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"homeworks":[{"homework_name":"hw1","status":"approved"}],"current_date":1}`)
	}))
	defer api.Close()

	texts := make(chan string, 4)
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &params)
		if s, ok := params["text"].(string); ok {
			texts <- s
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":1700000000,"chat":{"id":100500,"type":"private"}}}`)
	}))
	defer bot.Close()

	settings := writeSettings(t, `{
		"poll": {"endpoint": "`+api.URL+`", "interval": "1m"},
		"telegram": {"api_url": "`+bot.URL+`"},
		"logging": {"level": "error", "console": false, "file": {"enabled": false}}
	}`)

	a, err := New(Options{SettingsPath: settings, LookupEnv: testEnv()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case got := <-texts:
		want := `Status of submission "hw1" changed. Работа проверена: ревьюеру всё понравилось. Ура!`
		if got != want {
			t.Fatalf("sent %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestApplySettingsSwitchesLogLevel(t *testing.T) {
	settings := writeSettings(t, `{"logging": {"level": "error", "console": false, "file": {"enabled": false}}}`)
	a, err := New(Options{SettingsPath: settings, LookupEnv: testEnv()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.logs.Close()

	oldSt := a.cfgm.Get()
	newSt := *oldSt
	newSt.Logging.Level = "info"
	ch, unsub := a.bus.Subscribe(1)
	defer unsub()

	a.applySettings(oldSt, &newSt)
	if lvl := a.logs.Config().Level; !strings.EqualFold(lvl, "info") {
		t.Fatalf("level = %q, want info", lvl)
	}
	select {
	case ev := <-ch:
		if ev.Type != "config.reloaded" {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("no reload event")
	}
}
