// Interaction webhook handler.
//
// POST /interactions receives slash-command invocations. The request is
// authenticated by its detached Ed25519 signature before anything else
// runs; every later outcome, success or failure, is an HTTP 200 carrying a
// channel-visible reply.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/tbourn/go-archive-bot/internal/alert"
	"github.com/tbourn/go-archive-bot/internal/command"
	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/http/middleware"
	"github.com/tbourn/go-archive-bot/internal/messages"
	"github.com/tbourn/go-archive-bot/internal/repo"
	"github.com/tbourn/go-archive-bot/internal/services"
	"github.com/tbourn/go-archive-bot/internal/signature"
)

// InteractionResponse is the webhook reply. Flags are never set, so replies
// are visible to the whole channel.
type InteractionResponse struct {
	Type discordgo.InteractionResponseType `json:"type"`
	Data *InteractionResponseData          `json:"data,omitempty"`
}

// InteractionResponseData carries the reply text.
type InteractionResponseData struct {
	Content string `json:"content"`
}

func reply(content string) InteractionResponse {
	return InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &InteractionResponseData{Content: content},
	}
}

// outcome is the result of running one command.
type outcome struct {
	content string
	err     error
}

// Interactions handles POST /interactions.
func (h *Handlers) Interactions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !signature.Verify(body,
		c.GetHeader(signature.HeaderSignature),
		c.GetHeader(signature.HeaderTimestamp),
		h.opts.PublicKey) {
		interactionsTotal.WithLabelValues("", string(domain.CodeUnauthorized)).Inc()
		c.JSON(http.StatusUnauthorized, reply(messages.ToUserMessage(h.opts.DefaultLocale, domain.CodeUnauthorized)))
		return
	}

	var in discordgo.Interaction
	if err := json.Unmarshal(body, &in); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("malformed interaction payload")
		interactionsTotal.WithLabelValues("", string(domain.CodeBadRequest)).Inc()
		c.JSON(http.StatusOK, reply(messages.ToUserMessage(h.opts.DefaultLocale, domain.CodeBadRequest)))
		return
	}
	middleware.WithLogger(c, middleware.LoggerFrom(c).With().Str("interaction_id", in.ID).Logger())
	lg := middleware.LoggerFrom(c)

	if in.Type == discordgo.InteractionPing {
		c.JSON(http.StatusOK, InteractionResponse{Type: discordgo.InteractionResponsePong})
		return
	}

	ctx := c.Request.Context()
	if st := h.storedInteraction(ctx, lg, in.ID); st != nil {
		lg.Info().Msg("replaying stored interaction response")
		raw(c, st.Status, st.Body)
		return
	}

	tag := messages.Match(string(in.Locale), h.opts.DefaultLocale)
	if in.Type != discordgo.InteractionApplicationCommand {
		c.JSON(http.StatusOK, reply(messages.Acknowledged(tag)))
		return
	}
	name := in.ApplicationCommandData().Name
	if name != command.NameArchiveVideo && name != command.NameArchiveChallenge {
		lg.Info().Str("command", name).Msg("unknown command acknowledged")
		c.JSON(http.StatusOK, reply(messages.Acknowledged(tag)))
		return
	}
	lg.Info().Str("command", name).Str("channel_id", in.ChannelID).Msg("interaction received")

	if _, allowed := h.opts.AllowedChannels[in.ChannelID]; !allowed {
		interactionsTotal.WithLabelValues(name, string(domain.CodeChannelNotAllowed)).Inc()
		c.JSON(http.StatusOK, reply(messages.ToUserMessage(tag, domain.CodeChannelNotAllowed)))
		return
	}

	var resp InteractionResponse
	if name == command.NameArchiveVideo && h.opts.DeferLinkCommands && h.opts.Editor != nil {
		resp = InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
		interaction := in
		h.goAsync(ctx, func(bg context.Context) {
			out := h.run(bg, lg, &interaction, name, tag)
			content := out.content
			if _, err := h.opts.Editor.InteractionResponseEdit(&interaction,
				&discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(bg)); err != nil {
				lg.Error().Err(err).Msg("editing deferred reply failed")
			}
		})
	} else {
		out := h.run(ctx, lg, &in, name, tag)
		resp = reply(out.content)
	}

	b, err := json.Marshal(resp)
	if err != nil {
		c.JSON(http.StatusOK, reply(messages.ToUserMessage(tag, domain.CodeUnexpected)))
		return
	}
	h.storeInteraction(ctx, lg, in.ID, b)
	raw(c, http.StatusOK, b)
}

// run validates and archives one command and builds its reply. Severe
// failures fire one operator alert.
func (h *Handlers) run(ctx context.Context, lg *zerolog.Logger, in *discordgo.Interaction, name string, tag language.Tag) outcome {
	opts := in.ApplicationCommandData().Options
	up := command.ResolveInvoker(in)

	var out outcome
	var fields messages.Fields
	switch name {
	case command.NameArchiveVideo:
		out, fields = h.runVideo(ctx, opts, up, tag)
	default:
		out, fields = h.runChallenge(ctx, opts, up, tag)
	}

	if out.err == nil {
		interactionsTotal.WithLabelValues(name, "ok").Inc()
		return out
	}
	code := domain.CodeOf(out.err)
	interactionsTotal.WithLabelValues(name, string(code)).Inc()
	out.content = messages.FailureContent(tag, code, fields)

	if code.Severe() {
		lg.Error().Err(out.err).Str("code", string(code)).Msg("archive failed")
		h.alertAsync(ctx, out.err, alert.Context{
			CorrelationID: in.ID,
			Code:          code,
			Command:       name,
			User:          up.ID,
		})
	} else {
		lg.Info().Str("code", string(code)).Msg("archive rejected")
	}
	return out
}

func (h *Handlers) runVideo(ctx context.Context, opts []*discordgo.ApplicationCommandInteractionDataOption, up domain.Uploader, tag language.Tag) (outcome, messages.Fields) {
	cmd, err := command.ParseVideo(opts)
	if err != nil {
		return outcome{err: err}, messages.Fields{}
	}
	fields := messages.Fields{URL: cmd.URL, Title: deref(cmd.Title), Description: deref(cmd.Description)}
	arc, err := h.opts.Archiver.ArchiveVideo(ctx, services.VideoSubmission{
		URL:         cmd.URL,
		Title:       cmd.Title,
		Description: cmd.Description,
		Uploader:    up,
	})
	if err != nil {
		return outcome{err: err}, fields
	}
	return outcome{content: messages.VideoArchived(tag, arc.Title, arc.URL)}, fields
}

func (h *Handlers) runChallenge(ctx context.Context, opts []*discordgo.ApplicationCommandInteractionDataOption, up domain.Uploader, tag language.Tag) (outcome, messages.Fields) {
	cmd, err := command.ParseChallenge(opts)
	if err != nil {
		return outcome{err: err}, messages.Fields{}
	}
	fields := messages.Fields{URL: cmd.URL, Title: cmd.Title, Description: cmd.Description}

	var arc *domain.ChallengeArchive
	if cmd.IsLink() {
		arc, err = h.opts.Archiver.ArchiveChallengeLink(ctx, services.ChallengeLinkSubmission{
			URL:         cmd.URL,
			Title:       cmd.Title,
			Description: cmd.Description,
			Uploader:    up,
		})
	} else {
		arc, err = h.opts.Archiver.ArchiveChallengeText(ctx, services.ChallengeTextSubmission{
			Title:       cmd.Title,
			Description: cmd.Description,
			Uploader:    up,
		})
	}
	if err != nil {
		return outcome{err: err}, fields
	}
	return outcome{content: messages.ChallengeArchived(tag, arc.Title, deref(arc.URL))}, fields
}

// storedInteraction returns the reply already sent for id, if any. Lookup
// failures are logged and treated as a miss.
func (h *Handlers) storedInteraction(ctx context.Context, lg *zerolog.Logger, id string) *middleware.Stored {
	if h.opts.DB == nil || id == "" {
		return nil
	}
	rec, err := repo.GetIdempotency(ctx, h.opts.DB, domain.ScopeInteraction, id, h.now())
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			lg.Warn().Err(err).Msg("interaction replay lookup failed")
		}
		return nil
	}
	return &middleware.Stored{Status: rec.Status, Body: rec.Body}
}

func (h *Handlers) storeInteraction(ctx context.Context, lg *zerolog.Logger, id string, body []byte) {
	if h.opts.DB == nil || id == "" {
		return
	}
	if _, err := repo.CreateIdempotency(ctx, h.opts.DB, domain.ScopeInteraction, id, http.StatusOK, body, h.opts.ReplayTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		lg.Warn().Err(err).Msg("storing interaction response failed")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
