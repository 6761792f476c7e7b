// Package command validates slash-command options before any side effect
// happens and resolves who invoked the command.
package command

import (
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/sysutil"
)

// Registered command names.
const (
	NameArchiveVideo     = "archive-video"
	NameArchiveChallenge = "archive-challenge"
)

// Option names.
const (
	OptURL         = "url"
	OptTitle       = "title"
	OptDescription = "description"
)

// VideoCommand is a validated archive-video invocation. Title and
// Description are nil when the option was not supplied.
type VideoCommand struct {
	URL         string
	Title       *string
	Description *string
}

// ChallengeCommand is a validated archive-challenge invocation. URL is set
// only for link challenges.
type ChallengeCommand struct {
	Kind        string
	Title       string
	URL         string
	Description string
}

// IsLink reports whether the challenge points at a URL.
func (c ChallengeCommand) IsLink() bool { return c.Kind == domain.ChallengeKindLink }

// ParseVideo validates archive-video options.
func ParseVideo(opts []*discordgo.ApplicationCommandInteractionDataOption) (VideoCommand, error) {
	values := collect(opts)
	raw, ok := values[OptURL]
	if !ok || strings.TrimSpace(raw) == "" {
		return VideoCommand{}, domain.NewError(domain.CodeMissingRequiredField, "url is required")
	}
	u, err := CheckURL(raw)
	if err != nil {
		return VideoCommand{}, err
	}
	cmd := VideoCommand{URL: u}
	if v, ok := values[OptTitle]; ok {
		cmd.Title = &v
	}
	if v, ok := values[OptDescription]; ok {
		cmd.Description = &v
	}
	return cmd, nil
}

// ParseChallenge validates archive-challenge options. A blank url is the
// same as no url: the challenge becomes a text challenge.
func ParseChallenge(opts []*discordgo.ApplicationCommandInteractionDataOption) (ChallengeCommand, error) {
	values := collect(opts)
	title := strings.TrimSpace(values[OptTitle])
	if title == "" {
		return ChallengeCommand{}, domain.NewError(domain.CodeMissingRequiredField, "title is required")
	}
	if raw := values[OptURL]; strings.TrimSpace(raw) != "" {
		u, err := CheckURL(raw)
		if err != nil {
			return ChallengeCommand{}, err
		}
		return ChallengeCommand{
			Kind:        domain.ChallengeKindLink,
			Title:       title,
			URL:         u,
			Description: values[OptDescription],
		}, nil
	}
	return ChallengeCommand{
		Kind:        domain.ChallengeKindText,
		Title:       title,
		Description: values[OptDescription],
	}, nil
}

// CheckURL trims raw and requires an absolute URL with a host.
func CheckURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil {
		return "", domain.WrapError(domain.CodeInvalidURL, "url does not parse", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", domain.NewError(domain.CodeInvalidURL, "url must be absolute")
	}
	return s, nil
}

// collect keeps string-valued options by name. Options of any other type are
// dropped and therefore count as missing.
func collect(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]string {
	out := make(map[string]string, len(opts))
	for _, o := range opts {
		if o == nil {
			continue
		}
		if s, ok := o.Value.(string); ok {
			out[o.Name] = s
		}
	}
	return out
}

// ResolveInvoker attributes the interaction to a user. The display name is
// the guild nickname, then the global display name, then the username; DM
// invocations carry only the top-level user.
func ResolveInvoker(i *discordgo.Interaction) domain.Uploader {
	if i == nil {
		return domain.Uploader{}
	}
	var nick string
	var gu, du *discordgo.User
	if i.Member != nil {
		nick = i.Member.Nick
		gu = i.Member.User
	}
	du = i.User

	up := domain.Uploader{}
	names := []string{nick}
	for _, u := range []*discordgo.User{gu, du} {
		if u == nil {
			continue
		}
		if up.ID == "" {
			up.ID = u.ID
		}
		names = append(names, u.GlobalName, u.Username)
	}
	up.DisplayName = sysutil.FirstNonEmpty(names...)
	return up
}
