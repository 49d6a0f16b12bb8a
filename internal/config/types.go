package config

import (
	"errors"
	"fmt"
	"time"

	logx "hwbot/pkg/logx"
)

// ErrConfiguration marks fatal startup configuration problems.
var ErrConfiguration = errors.New("configuration error")

// Environment variables holding the credentials.
const (
	EnvPracticumToken = "PRACTICUM_TOKEN"
	EnvTelegramToken  = "TELEGRAM_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
)

// Credentials are read from the environment only and never logged.
type Credentials struct {
	PracticumToken string
	TelegramToken  string
	TelegramChatID string
}

// String redacts the tokens.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{practicum_token:%s telegram_token:%s chat_id:%q}",
		redact(c.PracticumToken), redact(c.TelegramToken), c.TelegramChatID)
}

func redact(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "<redacted>"
}

// Settings is the optional settings file (JSON or YAML). Every field has a
// default; durations are Go duration strings.
//
// Example (YAML):
//
//	poll:
//	  interval: 10m
//	logging:
//	  level: info
//	  file: { enabled: true, path: ./bot.log }
type Settings struct {
	Poll     PollSettings     `json:"poll"`
	Telegram TelegramSettings `json:"telegram"`
	Notifier NotifierSettings `json:"notifier"`
	Logging  LoggingSettings  `json:"logging"`
}

type PollSettings struct {
	Endpoint string `json:"endpoint,omitempty"`
	// Interval accepts "10m", "HH:MM" or "@every 10m".
	Interval       string `json:"interval,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type TelegramSettings struct {
	APIURL   string `json:"api_url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type NotifierSettings struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

type LoggingSettings struct {
	Level   string      `json:"level,omitempty"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Defaults.
const (
	DefaultInterval       = 10 * time.Minute
	DefaultRequestTimeout = 30 * time.Second
	DefaultLogLevel       = "debug"
)

// Config is the resolved process configuration.
type Config struct {
	Credentials Credentials
	Settings    Settings

	Endpoint       string
	Interval       time.Duration
	RequestTimeout time.Duration

	TelegramAPIURL   string
	TelegramTimeout  time.Duration
	TelegramThreadID int

	Notifier NotifierConfig
	Logging  logx.Config
}

type NotifierConfig struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}
