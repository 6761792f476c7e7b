// Package alert delivers best-effort operator notifications to a chat
// channel when a submission fails in a way that needs a human.
package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/sysutil"
)

// Defaults for delivery retries.
const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second

	// Discord caps message content at 2000 characters.
	maxContent = 2000
)

// Sender posts a message to a channel. *discordgo.Session implements it.
type Sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Context ties an alert to the interaction or request that caused it.
type Context struct {
	CorrelationID string
	Code          domain.ErrorCode
	Command       string
	User          string
}

// Result reports how delivery went. Status is the HTTP status of the last
// failed attempt when the API returned one.
type Result struct {
	OK            bool
	Status        int
	Attempts      int
	NotConfigured bool
}

// Notifier sends alerts with a fixed attempt cap and a fixed delay.
type Notifier struct {
	sender    Sender
	channelID string

	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewNotifier returns a Notifier posting to channelID. A nil sender or an
// empty channel makes every Alert return NotConfigured.
func NewNotifier(sender Sender, channelID string) *Notifier {
	return &Notifier{
		sender:    sender,
		channelID: strings.TrimSpace(channelID),
		attempts:  DefaultAttempts,
		delay:     DefaultDelay,
		sleep:     sleepCtx,
	}
}

// Configured reports whether alerts can be delivered at all.
func (n *Notifier) Configured() bool {
	return n != nil && n.sender != nil && n.channelID != ""
}

// Alert posts message to the operator channel.
func (n *Notifier) Alert(ctx context.Context, message string, ac Context) Result {
	lg := log.With().
		Str("correlation_id", ac.CorrelationID).
		Str("code", string(ac.Code)).
		Str("command", ac.Command).
		Logger()

	if !n.Configured() {
		lg.Warn().Msg("developer alert not configured; dropping")
		return Result{NotConfigured: true}
	}

	content := Format(message, ac)
	var res Result
	for attempt := 1; attempt <= n.attempts; attempt++ {
		res.Attempts = attempt
		_, err := n.sender.ChannelMessageSend(n.channelID, content, discordgo.WithContext(ctx))
		if err == nil {
			res.OK = true
			res.Status = 0
			lg.Info().Int("attempt", attempt).Msg("developer alert delivered")
			return res
		}
		res.Status = statusOf(err)
		lg.Warn().Err(err).Int("attempt", attempt).Int("status", res.Status).Msg("developer alert attempt failed")

		if attempt == n.attempts {
			break
		}
		if err := n.sleep(ctx, n.delay); err != nil {
			lg.Warn().Err(err).Msg("developer alert retry aborted")
			break
		}
	}
	lg.Error().Int("attempts", res.Attempts).Int("status", res.Status).Msg("developer alert failed")
	return res
}

// Format renders the operator message with its correlation details.
func Format(message string, ac Context) string {
	var b strings.Builder
	b.WriteString(":rotating_light: ")
	b.WriteString(message)
	fmt.Fprintf(&b, "\ncorrelation_id: %s", dash(ac.CorrelationID))
	fmt.Fprintf(&b, "\ncode: %s", dash(string(ac.Code)))
	if ac.Command != "" {
		fmt.Fprintf(&b, "\ncommand: %s", ac.Command)
	}
	if ac.User != "" {
		fmt.Fprintf(&b, "\nuser: %s", ac.User)
	}
	return sysutil.TruncateRunes(b.String(), maxContent)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func statusOf(err error) int {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil {
		return rerr.Response.StatusCode
	}
	if errors.Is(err, discordgo.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
