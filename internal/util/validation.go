package util

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/coah80/reelsave/internal/config"
)

var (
	cdnSubdomainRe = regexp.MustCompile(`^[a-z0-9-]+\.cdninstagram\.com$`)
	fbcdnRe        = regexp.MustCompile(`^scontent[a-z0-9-]*\.fbcdn\.net$`)
	fnaRe          = regexp.MustCompile(`^instagram\.[a-z]{2,}[a-z0-9-]*\.fna\.fbcdn\.net$`)
)

type URLValidation struct {
	Valid bool
	Error string
}

// ValidateSourceURL checks a user-submitted post URL before it is handed to
// the resolver.
func ValidateSourceURL(rawURL string) URLValidation {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return URLValidation{false, "URL is required"}
	}
	if len(rawURL) > config.MaxURLLength {
		return URLValidation{false, "URL is too long"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || !parsed.IsAbs() {
		return URLValidation{false, "Invalid URL format"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return URLValidation{false, "Only HTTP/HTTPS URLs are allowed"}
	}

	host := strings.ToLower(parsed.Hostname())
	if host != "instagram.com" && !strings.HasSuffix(host, ".instagram.com") {
		return URLValidation{false, "URL must be from Instagram (instagram.com)"}
	}

	return URLValidation{true, ""}
}

// IsAllowedMediaURL reports whether rawURL is an https URL on one of the
// Instagram or Facebook CDN hosts we are willing to proxy.
func IsAllowedMediaURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "https" {
		return false
	}
	return IsAllowedMediaHost(strings.ToLower(parsed.Hostname()))
}

func IsAllowedMediaHost(host string) bool {
	if host == "cdninstagram.com" || host == "scontent.cdninstagram.com" {
		return true
	}
	return cdnSubdomainRe.MatchString(host) ||
		fbcdnRe.MatchString(host) ||
		fnaRe.MatchString(host)
}

func DetectPostType(rawURL string) string {
	switch {
	case strings.Contains(rawURL, "/reel/"), strings.Contains(rawURL, "/reels/"):
		return "reel"
	case strings.Contains(rawURL, "/tv/"):
		return "igtv"
	default:
		return "post"
	}
}

var postPrefixes = map[string]bool{
	"p":       true,
	"reel":    true,
	"reels":   true,
	"tv":      true,
	"explore": true,
}

// ExtractUsername returns the profile name for URLs shaped like
// instagram.com/<name>/... and "" for direct post links, which carry no
// username.
func ExtractUsername(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return ""
	}
	if segments[0] == "stories" {
		if len(segments) > 1 {
			return segments[1]
		}
		return ""
	}
	if postPrefixes[segments[0]] {
		return ""
	}
	return segments[0]
}
