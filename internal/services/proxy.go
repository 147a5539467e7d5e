package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coah80/reelsave/internal/alerts"
	"github.com/coah80/reelsave/internal/config"
	"github.com/coah80/reelsave/internal/util"
)

const streamChunkSize = 32 * 1024

var ErrForbiddenRedirect = errors.New("redirect to a host outside the CDN allow-list")

// NewUpstreamClient builds the client used to fetch CDN media. timeout
// bounds the wait for response headers only; the body may take as long as
// the client keeps reading. Redirects are followed only to allow-listed
// hosts. A nil transport gets a clone of the default transport routed
// through the configured proxy pool.
func NewUpstreamClient(timeout time.Duration, transport http.RoundTripper) *http.Client {
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = timeout
		t.DisableCompression = true
		t.Proxy = util.ConfiguredProxyPool().TransportProxy()
		transport = t
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			if !util.IsAllowedMediaURL(req.URL.String()) {
				return ErrForbiddenRedirect
			}
			return nil
		},
	}
}

type DownloadProxy struct {
	store  *TokenStore
	client *http.Client
}

func NewDownloadProxy(store *TokenStore, client *http.Client) *DownloadProxy {
	if client == nil {
		client = NewUpstreamClient(config.UpstreamTimeout, nil)
	}
	return &DownloadProxy{store: store, client: client}
}

// Open resolves token to its media URL, checks the host and issues the
// upstream request. On success the caller owns resp.Body.
func (p *DownloadProxy) Open(ctx context.Context, token string) (*http.Response, *util.AppError) {
	if token == "" {
		return nil, util.ErrMissingToken
	}

	target, ok := p.store.Get(token)
	if !ok {
		return nil, util.ErrInvalidToken
	}

	if !util.IsAllowedMediaURL(target) {
		p.rejectSource(token, target)
		return nil, util.ErrForbiddenSource
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		log.Printf("[Download] %s... bad request for upstream: %v", shortToken(token), err)
		return nil, util.NewDownloadError()
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrForbiddenRedirect) {
			p.rejectSource(token, target)
			return nil, util.ErrForbiddenSource
		}
		log.Printf("[Download] %s... upstream fetch failed: %v", shortToken(token), err)
		return nil, util.NewDownloadError()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		log.Printf("[Download] %s... upstream returned %d", shortToken(token), resp.StatusCode)
		return nil, util.NewUpstreamFailure(resp.StatusCode)
	}

	return resp, nil
}

func (p *DownloadProxy) rejectSource(token, target string) {
	p.store.Delete(token)
	host := ""
	if u, err := url.Parse(target); err == nil {
		host = u.Host
	}
	log.Printf("[Download] %s... rejected source host %q, token deleted", shortToken(token), host)
	alerts.ForbiddenSource(shortToken(token), host)
}

// Stream copies resp to w as an attachment. Headers are committed together
// with the first chunk, so a failure before any byte is read leaves w
// untouched and committed reports false. Each chunk is flushed before the
// next read, which keeps at most one buffer in memory and ties the upstream
// read rate to the client.
//
// When w cannot flush, the body is read fully (up to MaxBufferedBytes) and
// written in one call.
func (p *DownloadProxy) Stream(w http.ResponseWriter, resp *http.Response) (written int64, committed bool, err error) {
	defer resp.Body.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		return p.writeBuffered(w, resp)
	}

	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if !committed {
				setDownloadHeaders(w, resp.Header.Get("Content-Type"), resp.ContentLength)
				w.WriteHeader(http.StatusOK)
				committed = true
			}
			m, writeErr := w.Write(buf[:n])
			written += int64(m)
			if writeErr != nil {
				return written, committed, fmt.Errorf("write to client: %w", writeErr)
			}
			flusher.Flush()
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, committed, fmt.Errorf("read upstream: %w", readErr)
		}
	}

	if !committed {
		setDownloadHeaders(w, resp.Header.Get("Content-Type"), resp.ContentLength)
		w.WriteHeader(http.StatusOK)
		committed = true
	}
	return written, committed, nil
}

func (p *DownloadProxy) writeBuffered(w http.ResponseWriter, resp *http.Response) (int64, bool, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxBufferedBytes+1))
	if err != nil {
		return 0, false, fmt.Errorf("read upstream: %w", err)
	}
	if len(data) > config.MaxBufferedBytes {
		return 0, false, fmt.Errorf("upstream body exceeds %d bytes", config.MaxBufferedBytes)
	}

	setDownloadHeaders(w, resp.Header.Get("Content-Type"), int64(len(data)))
	w.WriteHeader(http.StatusOK)
	n, err := w.Write(data)
	if err != nil {
		return int64(n), true, fmt.Errorf("write to client: %w", err)
	}
	return int64(n), true, nil
}

func setDownloadHeaders(w http.ResponseWriter, contentType string, contentLength int64) {
	if contentType == "" {
		contentType = config.DefaultMediaType
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, config.DownloadFilename))
	h.Set("Access-Control-Allow-Origin", "*")
	if contentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}
}
