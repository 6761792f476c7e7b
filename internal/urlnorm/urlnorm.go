// Package urlnorm canonicalizes submitted URLs into a storage-stable form so
// the same resource is never archived twice under cosmetic URL variance.
//
// YouTube links in any of their surface forms collapse to a single
// https://www.youtube.com/watch?v=<id> URL. Every other URL keeps its scheme,
// host and path and loses its query and fragment. Normalize is total and
// idempotent: Normalize(Normalize(u)) == Normalize(u).
package urlnorm

import (
	"net/url"
	"regexp"
	"strings"
)

// CanonicalVideoPrefix is the prefix of every normalized YouTube URL.
const CanonicalVideoPrefix = "https://www.youtube.com/watch?v="

var videoIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// youtubeHosts are the hostnames serving watchable videos.
var youtubeHosts = map[string]struct{}{
	"youtube.com":       {},
	"www.youtube.com":   {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
}

// pathPrefixes are the YouTube path forms that carry the id as the next segment.
var pathPrefixes = []string{"/live/", "/shorts/", "/embed/", "/v/"}

// Normalize returns the canonical form of raw. Input that does not parse as a
// URL is returned unchanged.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if id, ok := videoID(u); ok {
		return CanonicalVideoPrefix + id
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// VideoID extracts the YouTube video id from raw, reporting whether raw is a
// recognized YouTube video URL.
func VideoID(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return videoID(u)
}

// IsYouTube reports whether host belongs to YouTube (including youtu.be).
func IsYouTube(host string) bool {
	host = strings.ToLower(host)
	if host == "youtu.be" {
		return true
	}
	_, ok := youtubeHosts[host]
	return ok
}

func videoID(u *url.URL) (string, bool) {
	host := strings.ToLower(u.Hostname())
	var id string
	switch {
	case host == "youtu.be":
		id = firstSegment(u.Path)
	case IsYouTube(host):
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		default:
			for _, p := range pathPrefixes {
				if strings.HasPrefix(u.Path, p) {
					id = firstSegment(strings.TrimPrefix(u.Path, p))
					break
				}
			}
		}
	default:
		return "", false
	}
	if !videoIDRE.MatchString(id) {
		return "", false
	}
	return id, true
}

// firstSegment returns the first non-empty path segment of p.
func firstSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
