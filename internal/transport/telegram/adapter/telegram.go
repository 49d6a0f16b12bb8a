// Package adapter delivers messages through the Telegram Bot API (telebot).
package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "hwbot/internal/transport"
	logx "hwbot/pkg/logx"
)

// DefaultAPIURL is the public Telegram Bot API.
const DefaultAPIURL = tele.DefaultApiURL

type Config struct {
	Token string
	// APIURL overrides the Bot API base URL (self-hosted bot API, tests).
	APIURL  string
	Timeout time.Duration
}

// Adapter is a send-only Telegram transport. It never polls for updates.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

var _ kit.Sender = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	// Offline skips the getMe round-trip so a network outage at startup does
	// not stop the process; send failures are reported per message instead.
	b, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.APIURL = apiURL
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// SendText sends a plain message. telebot has no per-call context, so ctx is
// only checked before the request; the HTTP client timeout bounds the call.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return kit.MessageRef{}, err
		}
	}
	if strings.TrimSpace(to.ChatID) == "" {
		return kit.MessageRef{}, errors.New("telegram: empty chat id")
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
		ThreadID:              to.ThreadID,
	}

	msg, err := a.bot.Send(recipient(to.ChatID), text, sendOpt)
	if err != nil {
		return kit.MessageRef{}, a.sendError("sendMessage", err)
	}
	a.log.Debug("telegram message sent", logx.String("chat_id", to.ChatID), logx.Int("message_id", msg.ID))
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// sendError strips the request URL, which embeds the bot token, from
// transport errors and marks failures that never reached the Bot API.
func (a *Adapter) sendError(method string, err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return kit.RetryAfter(a.redact(err), time.Duration(flood.RetryAfter)*time.Second)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		inner := a.redact(ue.Err)
		if notSent(ue.Err) {
			return fmt.Errorf("telegram: %s: %w: %w", method, kit.ErrNotDelivered, inner)
		}
		return fmt.Errorf("telegram: %s: %w", method, inner)
	}
	return a.redact(err)
}

// notSent reports dial and DNS failures: no byte of the request was written.
func notSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}

func (a *Adapter) redact(err error) error {
	if err == nil || a.cfg.Token == "" || !strings.Contains(err.Error(), a.cfg.Token) {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), a.cfg.Token, "<redacted>"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return e.err }

// recipient lets telebot address a chat by its raw textual id.
type recipient string

func (r recipient) Recipient() string { return string(r) }
