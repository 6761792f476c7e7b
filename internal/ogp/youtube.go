package ogp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/urlnorm"
)

// YouTubeConfig configures the YouTube Data API strategy.
type YouTubeConfig struct {
	APIKey   string
	Endpoint string        // override for tests; empty uses the public API
	Timeout  time.Duration // per-call HTTP timeout; defaults to 10s
}

// YouTubeStrategy resolves video metadata through the YouTube Data API v3.
//
// The API service handle is created on first use and then shared by every
// request for the life of the process. Calls go through a circuit breaker so
// an API outage fails fast instead of stacking timeouts.
type YouTubeStrategy struct {
	cfg YouTubeConfig

	mu  sync.Mutex
	svc *youtube.Service

	// newService is a seam for tests.
	newService func(ctx context.Context, opts ...option.ClientOption) (*youtube.Service, error)

	cb *gobreaker.CircuitBreaker[*youtube.VideoListResponse]
}

// NewYouTubeStrategy returns a strategy; no network or credential work is
// done until the first Run.
func NewYouTubeStrategy(cfg YouTubeConfig) *YouTubeStrategy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &YouTubeStrategy{
		cfg:        cfg,
		newService: youtube.NewService,
		cb: gobreaker.NewCircuitBreaker[*youtube.VideoListResponse](gobreaker.Settings{
			Name:        "youtube-data-api",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			},
		}),
	}
}

// service returns the shared API handle, creating it on first use. A failed
// creation is not cached so the next call retries.
func (y *YouTubeStrategy) service() (*youtube.Service, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.svc != nil {
		return y.svc, nil
	}
	if y.cfg.APIKey == "" {
		return nil, errors.New("youtube api key not configured")
	}
	client := &http.Client{
		Timeout:   y.cfg.Timeout,
		Transport: &transport.APIKey{Key: y.cfg.APIKey},
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if y.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(y.cfg.Endpoint))
	}
	svc, err := y.newService(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	y.svc = svc
	return svc, nil
}

// Run looks up the video referenced by rawURL.
func (y *YouTubeStrategy) Run(ctx context.Context, rawURL string) (domain.OGP, error) {
	id, ok := urlnorm.VideoID(rawURL)
	if !ok {
		return domain.OGP{}, failed("youtube", errors.New("no video id in url"))
	}
	svc, err := y.service()
	if err != nil {
		return domain.OGP{}, failed("youtube", err)
	}

	resp, err := y.cb.Execute(func() (*youtube.VideoListResponse, error) {
		return svc.Videos.List([]string{"snippet"}).Id(id).Context(ctx).Do()
	})
	if err != nil {
		return domain.OGP{}, failed("youtube", err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return domain.OGP{}, failed("youtube", errors.New("video "+id+" not found"))
	}

	sn := resp.Items[0].Snippet
	return domain.OGP{
		Title:       sn.Title,
		Description: sn.Description,
		Image:       thumbnailURL(sn.Thumbnails),
	}, nil
}

// thumbnailURL picks the largest available thumbnail.
func thumbnailURL(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.Maxres, t.Standard, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}
