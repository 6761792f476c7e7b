package ogp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/sysutil"
)

// ScannerConfig controls the page scanner.
type ScannerConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// ScannerStrategy reads OpenGraph tags from the target page, falling back to
// Twitter card tags, <title> and the description meta tag.
type ScannerStrategy struct {
	cfg  ScannerConfig
	base *colly.Collector
}

// NewScannerStrategy builds a scanner sharing one HTTP client across calls.
func NewScannerStrategy(cfg ScannerConfig) *ScannerStrategy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &ScannerStrategy{cfg: cfg, base: c}
}

// Run fetches rawURL and extracts its metadata.
func (s *ScannerStrategy) Run(ctx context.Context, rawURL string) (domain.OGP, error) {
	var (
		og       domain.OGP
		fetchErr error
	)
	collector := s.base.Clone()

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		og = extract(e)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return domain.OGP{}, failed("scanner", fmt.Errorf("scan canceled: %w", ctx.Err()))
	case err := <-done:
		if fetchErr != nil {
			return domain.OGP{}, failed("scanner", fetchErr)
		}
		if err != nil {
			return domain.OGP{}, failed("scanner", err)
		}
	}
	if og.Title == "" {
		return domain.OGP{}, failed("scanner", errors.New("page has no title"))
	}
	return og, nil
}

func extract(e *colly.HTMLElement) domain.OGP {
	return domain.OGP{
		Title: sysutil.FirstNonEmpty(
			e.ChildAttr(`meta[property="og:title"]`, "content"),
			e.ChildAttr(`meta[name="twitter:title"]`, "content"),
			e.ChildText("head > title"),
		),
		Description: sysutil.FirstNonEmpty(
			e.ChildAttr(`meta[property="og:description"]`, "content"),
			e.ChildAttr(`meta[name="twitter:description"]`, "content"),
			e.ChildAttr(`meta[name="description"]`, "content"),
		),
		Image: sysutil.FirstNonEmpty(
			e.ChildAttr(`meta[property="og:image"]`, "content"),
			e.ChildAttr(`meta[name="twitter:image"]`, "content"),
		),
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
