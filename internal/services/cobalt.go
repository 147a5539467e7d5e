package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/coah80/reelsave/internal/alerts"
	"github.com/coah80/reelsave/internal/config"
	"github.com/coah80/reelsave/internal/util"
)

// Resolution is what a resolver learned about a post.
type Resolution struct {
	MediaURL  string
	Thumbnail string
	Title     string
	Duration  float64
}

type Resolver interface {
	Resolve(ctx context.Context, postURL string) (*Resolution, error)
}

const (
	codeUnreachable = "error.api.unreachable"
	codeEmpty       = "error.api.fetch.empty"
	codeNotProxied  = "error.api.fetch.not_cdn"
	codeBadResponse = "error.api.bad_response"
)

// ResolveError carries a Cobalt error code and, when the failure came from
// the HTTP layer, the status the instance answered with. Err holds the
// underlying transport error, if any.
type ResolveError struct {
	Code   string
	Status int
	Err    error
}

func (e *ResolveError) Error() string {
	msg := e.Code
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolveError) HTTPStatus() int {
	return e.Status
}

func (e *ResolveError) ErrorCode() string {
	return e.Code
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

type CobaltResolver struct {
	APIs   []string
	APIKey string
	Client *http.Client
}

func NewCobaltResolver() *CobaltResolver {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = util.ConfiguredProxyPool().TransportProxy()
	return &CobaltResolver{
		APIs:   config.CobaltAPIs,
		APIKey: config.CobaltAPIKey,
		Client: &http.Client{Timeout: config.UpstreamTimeout, Transport: transport},
	}
}

type cobaltResponse struct {
	Status   string         `json:"status"`
	URL      string         `json:"url"`
	Filename string         `json:"filename"`
	Picker   []cobaltPicker `json:"picker"`
	Error    *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type cobaltPicker struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Thumb string `json:"thumb"`
}

func (c *CobaltResolver) headers() map[string]string {
	h := map[string]string{
		"Accept":       "application/json",
		"Content-Type": "application/json",
	}
	if c.APIKey != "" {
		h["Authorization"] = "Api-Key " + c.APIKey
	}
	return h
}

func (c *CobaltResolver) post(ctx context.Context, apiURL, postURL string) (*cobaltResponse, error) {
	body, err := json.Marshal(map[string]interface{}{
		"url":           postURL,
		"downloadMode":  "auto",
		"filenameStyle": "basic",
		"videoQuality":  "1080",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &ResolveError{Code: codeUnreachable, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ResolveError{Code: codeUnreachable, Status: resp.StatusCode, Err: err}
	}

	var data cobaltResponse
	decodeErr := json.Unmarshal(respBody, &data)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && data.Error != nil && data.Error.Code != "" {
			return nil, &ResolveError{Code: data.Error.Code, Status: resp.StatusCode}
		}
		return nil, &ResolveError{Status: resp.StatusCode}
	}
	if decodeErr != nil {
		return nil, &ResolveError{Code: codeBadResponse, Status: resp.StatusCode}
	}
	if data.Status == "error" {
		code := "cobalt error"
		if data.Error != nil && data.Error.Code != "" {
			code = data.Error.Code
		}
		return nil, &ResolveError{Code: code}
	}
	return &data, nil
}

// Resolve asks each configured Cobalt instance in turn and returns the first
// usable media URL.
func (c *CobaltResolver) Resolve(ctx context.Context, postURL string) (*Resolution, error) {
	var lastErr error
	for _, apiURL := range c.APIs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[Cobalt] Resolving via %s", apiURL)

		data, err := c.post(ctx, apiURL, postURL)
		if err != nil {
			log.Printf("[Cobalt] %s failed: %s", apiURL, err)
			lastErr = err
			var re *ResolveError
			if errors.As(err, &re) && isPermanentCode(re.Code) {
				return nil, err
			}
			continue
		}

		res := resolutionFrom(data)
		if res.MediaURL == "" {
			lastErr = &ResolveError{Code: codeEmpty}
			continue
		}
		// Tunnel links point back at the instance, which the download proxy
		// refuses to fetch.
		if !util.IsAllowedMediaURL(res.MediaURL) {
			log.Printf("[Cobalt] %s returned a %s URL outside the CDN, skipping", apiURL, data.Status)
			lastErr = &ResolveError{Code: codeNotProxied}
			continue
		}

		log.Printf("[Cobalt] Got %s URL from %s", data.Status, apiURL)
		return res, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no Cobalt instances configured")
	}
	alerts.ResolverFailed(postURL, lastErr)
	return nil, lastErr
}

func resolutionFrom(data *cobaltResponse) *Resolution {
	res := &Resolution{}
	switch data.Status {
	case "tunnel", "redirect":
		res.MediaURL = data.URL
	case "picker":
		for _, item := range data.Picker {
			if item.Type == "video" && item.URL != "" {
				res.MediaURL = item.URL
				res.Thumbnail = item.Thumb
				break
			}
		}
		if res.MediaURL == "" && len(data.Picker) > 0 {
			res.MediaURL = data.Picker[0].URL
			res.Thumbnail = data.Picker[0].Thumb
		}
	}
	if data.Filename != "" {
		res.Title = strings.TrimSuffix(data.Filename, filepath.Ext(data.Filename))
	}
	return res
}

// Codes describing the post itself. Every instance answers the same way.
func isPermanentCode(code string) bool {
	return strings.Contains(code, "content.") || strings.Contains(code, "link.invalid") ||
		strings.Contains(code, "link.unsupported")
}

var _ Resolver = (*CobaltResolver)(nil)
