package ogp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tbourn/go-archive-bot/internal/domain"
)

func newPageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/og", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head>
<title>Fallback title</title>
<meta property="og:title" content="OG title">
<meta property="og:description" content="OG description">
<meta property="og:image" content="https://img.example/og.png">
</head><body></body></html>`))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head>
<title>Plain title</title>
<meta name="description" content="plain description">
<meta name="twitter:image" content="https://img.example/tw.png">
</head><body></body></html>`))
	})
	mux.HandleFunc("/untitled", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head></head><body>nothing</body></html>`))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestScanner_OpenGraphTags(t *testing.T) {
	srv := newPageServer(t)
	s := NewScannerStrategy(ScannerConfig{UserAgent: "archive-bot-test", Timeout: 5 * time.Second})

	og, err := s.Run(context.Background(), srv.URL+"/og")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if og.Title != "OG title" || og.Description != "OG description" || og.Image != "https://img.example/og.png" {
		t.Fatalf("unexpected ogp: %+v", og)
	}
}

func TestScanner_FallbackTags(t *testing.T) {
	srv := newPageServer(t)
	s := NewScannerStrategy(ScannerConfig{})

	og, err := s.Run(context.Background(), srv.URL+"/plain")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if og.Title != "Plain title" || og.Description != "plain description" || og.Image != "https://img.example/tw.png" {
		t.Fatalf("unexpected ogp: %+v", og)
	}
}

func TestScanner_Failures(t *testing.T) {
	srv := newPageServer(t)
	s := NewScannerStrategy(ScannerConfig{Timeout: 5 * time.Second})

	for _, path := range []string{"/missing", "/untitled"} {
		_, err := s.Run(context.Background(), srv.URL+path)
		if domain.CodeOf(err) != domain.CodeFailedGetOGP {
			t.Fatalf("%s: expected failed-get-ogp, got %v", path, err)
		}
	}
}

func TestScanner_ContextCanceled(t *testing.T) {
	srv := newPageServer(t)
	s := NewScannerStrategy(ScannerConfig{Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Run(ctx, srv.URL+"/slow")
	if domain.CodeOf(err) != domain.CodeFailedGetOGP {
		t.Fatalf("expected failed-get-ogp on cancel, got %v", err)
	}
}
