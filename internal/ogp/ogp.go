// Package ogp resolves title, description and image for a submitted URL.
//
// Each URL is classified into a Category by testing a fixed, ordered list of
// host patterns (video hosting first). Every supported Category maps to
// exactly one Strategy: YouTube videos go through the YouTube Data API, the
// remaining supported hosts through a generic OpenGraph page scanner.
// Anything else is rejected as unsupported before any network call.
package ogp

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/urlnorm"
)

// Category is the kind of site a URL points at.
type Category int

const (
	CategoryUnsupported Category = iota
	CategoryYouTube
	CategoryNicoVideo
	CategoryMicroblog
)

func (c Category) String() string {
	switch c {
	case CategoryYouTube:
		return "youtube"
	case CategoryNicoVideo:
		return "nicovideo"
	case CategoryMicroblog:
		return "microblog"
	default:
		return "unsupported"
	}
}

// Strategy fetches metadata for one URL. Implementations return errors
// carrying domain.CodeFailedGetOGP.
type Strategy interface {
	Run(ctx context.Context, rawURL string) (domain.OGP, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, rawURL string) (domain.OGP, error)

// Run calls f.
func (f StrategyFunc) Run(ctx context.Context, rawURL string) (domain.OGP, error) {
	return f(ctx, rawURL)
}

type hostPattern struct {
	category Category
	re       *regexp.Regexp
}

// patterns are tested in order; the first match wins.
var patterns = []hostPattern{
	{CategoryYouTube, regexp.MustCompile(`^((www|m|music)\.)?youtube\.com$|^youtu\.be$`)},
	{CategoryNicoVideo, regexp.MustCompile(`^((www|sp|live)\.)?nicovideo\.jp$|^nico\.ms$`)},
	{CategoryMicroblog, regexp.MustCompile(`^((www|mobile)\.)?(twitter|x)\.com$`)},
}

// Classify returns the Category of rawURL. Only absolute http(s) URLs can be
// supported; YouTube URLs must point at a video.
func Classify(rawURL string) Category {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return CategoryUnsupported
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range patterns {
		if !p.re.MatchString(host) {
			continue
		}
		if p.category == CategoryYouTube {
			if _, ok := urlnorm.VideoID(rawURL); !ok {
				return CategoryUnsupported
			}
		}
		return p.category
	}
	return CategoryUnsupported
}

// Selector dispatches URLs to the Strategy registered for their Category.
type Selector struct {
	strategies map[Category]Strategy
}

// NewSelector wires the YouTube API strategy and the generic scanner. When
// youtube is nil YouTube URLs are scanned like any other page.
func NewSelector(youtube, scanner Strategy) *Selector {
	if youtube == nil {
		youtube = scanner
	}
	return &Selector{strategies: map[Category]Strategy{
		CategoryYouTube:   youtube,
		CategoryNicoVideo: scanner,
		CategoryMicroblog: scanner,
	}}
}

// Select returns the Category and Strategy for rawURL, or an
// unsupported-url error.
func (s *Selector) Select(rawURL string) (Category, Strategy, error) {
	c := Classify(rawURL)
	st, ok := s.strategies[c]
	if c == CategoryUnsupported || !ok || st == nil {
		return CategoryUnsupported, nil, domain.NewError(domain.CodeUnsupportedURL, "no metadata source for "+rawURL)
	}
	return c, st, nil
}

// Resolve selects a strategy for rawURL and runs it. Errors from strategies
// that are not already typed are wrapped as failed-get-ogp.
func (s *Selector) Resolve(ctx context.Context, rawURL string) (domain.OGP, error) {
	c, st, err := s.Select(rawURL)
	if err != nil {
		return domain.OGP{}, err
	}
	og, err := st.Run(ctx, rawURL)
	if err != nil {
		if domain.CodeOf(err) == domain.CodeUnexpected {
			return domain.OGP{}, failed(c.String(), err)
		}
		return domain.OGP{}, err
	}
	return og, nil
}

// failed wraps cause as a failed-get-ogp error from source.
func failed(source string, cause error) error {
	return domain.WrapError(domain.CodeFailedGetOGP, source+" metadata lookup failed", cause)
}
