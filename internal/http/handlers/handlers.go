package handlers

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-archive-bot/internal/alert"
	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/services"
)

//
// Service contracts (context-aware)
//

// Archiver creates and lists archives. *services.ArchiveService implements it.
type Archiver interface {
	ArchiveVideo(ctx context.Context, sub services.VideoSubmission) (*domain.VideoArchive, error)
	ArchiveChallengeLink(ctx context.Context, sub services.ChallengeLinkSubmission) (*domain.ChallengeArchive, error)
	ArchiveChallengeText(ctx context.Context, sub services.ChallengeTextSubmission) (*domain.ChallengeArchive, error)
	ListVideos(ctx context.Context, page, pageSize int) ([]domain.VideoArchive, int64, error)
	ListChallenges(ctx context.Context, page, pageSize int) ([]domain.ChallengeArchive, int64, error)
}

// Alerter notifies operators. *alert.Notifier implements it.
type Alerter interface {
	Alert(ctx context.Context, message string, ac alert.Context) alert.Result
}

// ResponseEditor edits the original reply of a deferred interaction.
// *discordgo.Session implements it.
type ResponseEditor interface {
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var interactionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "interactions_total",
		Help: "Inbound interactions by command and outcome.",
	},
	[]string{"command", "outcome"},
)

func init() {
	prometheus.MustRegister(interactionsTotal)
}

//
// Handler wiring
//

// Options configures Handlers.
type Options struct {
	// DB backs interaction replays, API idempotency and list ETags.
	DB       *gorm.DB
	Archiver Archiver
	Alerter  Alerter
	Editor   ResponseEditor

	// PublicKey verifies interaction signatures. A nil key rejects every
	// interaction.
	PublicKey ed25519.PublicKey
	// AllowedChannels is the union of the per-command allow-lists. Empty
	// rejects every command.
	AllowedChannels map[string]struct{}
	// DeferLinkCommands answers video commands with a deferred reply and
	// edits it once the archive is done.
	DeferLinkCommands bool
	DefaultLocale     language.Tag

	// ReplayTTL bounds how long interaction and API responses are replayed.
	ReplayTTL time.Duration
	// FollowupTimeout bounds deferred work and alert delivery.
	FollowupTimeout time.Duration
}

// Handlers groups the interaction webhook and the JSON archive API.
type Handlers struct {
	opts Options
	wg   sync.WaitGroup
	now  func() time.Time
}

// New constructs Handlers. Zero durations fall back to a day of replay and a
// minute of follow-up work.
func New(opts Options) *Handlers {
	if opts.ReplayTTL <= 0 {
		opts.ReplayTTL = 24 * time.Hour
	}
	if opts.FollowupTimeout <= 0 {
		opts.FollowupTimeout = time.Minute
	}
	if opts.DefaultLocale == language.Und {
		opts.DefaultLocale = language.Japanese
	}
	if opts.AllowedChannels == nil {
		opts.AllowedChannels = map[string]struct{}{}
	}
	return &Handlers{opts: opts, now: time.Now}
}

// Wait blocks until background work (alerts, deferred edits) has finished.
// Call it during shutdown after the HTTP server stops accepting requests.
func (h *Handlers) Wait() { h.wg.Wait() }

// goAsync runs fn detached from the request, bounded by FollowupTimeout.
func (h *Handlers) goAsync(parent context.Context, fn func(ctx context.Context)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), h.opts.FollowupTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// alertAsync fires one operator alert for a severe failure.
func (h *Handlers) alertAsync(parent context.Context, err error, ac alert.Context) {
	if h.opts.Alerter == nil {
		return
	}
	msg := "archive failed: " + err.Error()
	h.goAsync(parent, func(ctx context.Context) {
		h.opts.Alerter.Alert(ctx, msg, ac)
	})
}
