package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	logx "hwbot/pkg/logx"
)

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// SettingsPath is an optional JSON/YAML settings file.
	SettingsPath string
	// EnvFile is an optional dotenv file. A missing file is not an error.
	EnvFile string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load resolves credentials and settings. Process environment wins over the
// dotenv file. Every failure wraps ErrConfiguration.
func Load(opts LoadOptions) (*Config, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	dotenv, err := readDotenv(opts.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	get := func(key string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(dotenv[key])
	}

	creds := Credentials{
		PracticumToken: get(EnvPracticumToken),
		TelegramToken:  get(EnvTelegramToken),
		TelegramChatID: get(EnvTelegramChatID),
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	var st Settings
	if strings.TrimSpace(opts.SettingsPath) != "" {
		p, err := ParseSettingsFile(opts.SettingsPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		st = *p
	}
	return Resolve(st, creds)
}

func readDotenv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	m, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

// Validate reports every missing credential in one error.
func (c Credentials) Validate() error {
	var missing []string
	if c.PracticumToken == "" {
		missing = append(missing, EnvPracticumToken)
	}
	if c.TelegramToken == "" {
		missing = append(missing, EnvTelegramToken)
	}
	if c.TelegramChatID == "" {
		missing = append(missing, EnvTelegramChatID)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required environment variables: %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// ParseSettingsFile decodes a JSON or YAML settings file strictly: unknown
// fields and trailing data are rejected.
func ParseSettingsFile(path string) (*Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, format, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var st Settings
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("%s %s: %w", format, path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%s %s: trailing data", format, path)
		}
		return nil, err
	}
	return &st, nil
}

// Resolve applies defaults and validates settings against credentials.
func Resolve(st Settings, creds Credentials) (*Config, error) {
	cfg, err := resolve(st)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	cfg.Credentials = creds
	return cfg, nil
}

// ValidateSettings is the reload validator: settings must resolve.
func ValidateSettings(st *Settings) error {
	if st == nil {
		return errors.New("settings is nil")
	}
	_, err := resolve(*st)
	return err
}

func resolve(st Settings) (*Config, error) {
	cfg := &Config{Settings: st}

	cfg.Endpoint = strings.TrimSpace(st.Poll.Endpoint)
	if cfg.Endpoint != "" {
		if err := checkURL("poll.endpoint", cfg.Endpoint); err != nil {
			return nil, err
		}
	}
	cfg.Interval = DefaultInterval
	if strings.TrimSpace(st.Poll.Interval) != "" {
		d, err := ParseInterval(st.Poll.Interval)
		if err != nil {
			return nil, fmt.Errorf("poll.interval: %w", err)
		}
		cfg.Interval = d
	}
	var err error
	if cfg.RequestTimeout, err = ParseDurationOrDefault("poll.request_timeout", st.Poll.RequestTimeout, DefaultRequestTimeout); err != nil {
		return nil, err
	}

	cfg.TelegramAPIURL = strings.TrimSpace(st.Telegram.APIURL)
	if cfg.TelegramAPIURL != "" {
		if err := checkURL("telegram.api_url", cfg.TelegramAPIURL); err != nil {
			return nil, err
		}
	}
	if cfg.TelegramTimeout, err = ParseDurationOrDefault("telegram.timeout", st.Telegram.Timeout, 0); err != nil {
		return nil, err
	}
	if st.Telegram.ThreadID < 0 {
		return nil, errors.New("telegram.thread_id must be >= 0")
	}
	cfg.TelegramThreadID = st.Telegram.ThreadID

	n := st.Notifier
	if n.RatePerSec < 0 {
		return nil, errors.New("notifier.rate_per_sec must be >= 0")
	}
	cfg.Notifier.RatePerSec = n.RatePerSec
	cfg.Notifier.RetryMax = -1
	if n.RetryMax != nil {
		if *n.RetryMax < 0 {
			return nil, errors.New("notifier.retry_max must be >= 0")
		}
		cfg.Notifier.RetryMax = *n.RetryMax
	}
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"notifier.retry_base", n.RetryBase, &cfg.Notifier.RetryBase},
		{"notifier.retry_max_delay", n.RetryMaxDelay, &cfg.Notifier.RetryMaxDelay},
		{"notifier.send_timeout", n.SendTimeout, &cfg.Notifier.SendTimeout},
	} {
		if *f.dst, err = ParseDurationField(f.path, f.raw); err != nil {
			return nil, err
		}
	}

	lc, err := LoggingConfig(st.Logging)
	if err != nil {
		return nil, err
	}
	cfg.Logging = lc
	return cfg, nil
}

// LoggingConfig maps the logging section to logx.Config. Defaults: debug
// level, console on, file ./bot.log.
func LoggingConfig(ls LoggingSettings) (logx.Config, error) {
	level := strings.TrimSpace(ls.Level)
	if level == "" {
		level = DefaultLogLevel
	}
	if _, ok := logx.ParseLevel(level); !ok {
		return logx.Config{}, fmt.Errorf("logging.level: unknown level %q", ls.Level)
	}
	out := logx.Config{
		Level:   level,
		Console: boolOr(ls.Console, true),
		File: logx.FileConfig{
			Enabled: boolOr(ls.File.Enabled, true),
			Path:    strings.TrimSpace(ls.File.Path),
		},
	}
	if out.File.Path == "" {
		out.File.Path = logx.DefaultFilePath
	}
	return out, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func checkURL(path, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https", path)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: host required", path)
	}
	return nil
}
