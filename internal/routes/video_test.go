package routes

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coah80/reelsave/internal/services"
)

const cdnURL = "https://scontent.cdninstagram.com/v/t50/clip.mp4?oh=abc"

type fakeResolver struct {
	res *services.Resolution
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, postURL string) (*services.Resolution, error) {
	return f.res, f.err
}

type fakeCDN struct {
	mu     sync.Mutex
	seen   []string
	handle func(req *http.Request) (*http.Response, error)
}

func (f *fakeCDN) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req.URL.String())
	f.mu.Unlock()
	return f.handle(req)
}

func (f *fakeCDN) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func serveBody(contentType, body string) func(req *http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		h := http.Header{}
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		return &http.Response{
			StatusCode:    200,
			Header:        h,
			Body:          io.NopCloser(strings.NewReader(body)),
			ContentLength: int64(len(body)),
			Request:       req,
		}, nil
	}
}

type testEnv struct {
	router chi.Router
	store  *services.TokenStore
	cdn    *fakeCDN
}

func newTestEnv(t *testing.T, resolver services.Resolver, cdn func(req *http.Request) (*http.Response, error)) *testEnv {
	t.Helper()
	store := services.NewTokenStore(services.TokenStoreOptions{})
	fake := &fakeCDN{handle: cdn}
	h := &VideoHandler{
		Store:    store,
		Resolver: resolver,
		Proxy:    services.NewDownloadProxy(store, services.NewUpstreamClient(5*time.Second, fake)),
	}
	r := chi.NewRouter()
	VideoRoutes(r, h)
	return &testEnv{router: r, store: store, cdn: fake}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestDownloadStreamsAttachment(t *testing.T) {
	env := newTestEnv(t, nil, serveBody("video/mp4", "MP4DATA"))
	env.store.Put("abc", cdnURL)

	rec := env.do(http.MethodGet, "/api/download-video?token=abc", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="instagram-video.mp4"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "7", rec.Header().Get("Content-Length"))
	assert.Equal(t, "MP4DATA", rec.Body.String())
	assert.Equal(t, []string{cdnURL}, env.cdn.requests())
}

func TestDownloadDefaultsContentType(t *testing.T) {
	env := newTestEnv(t, nil, serveBody("", "x"))
	env.store.Put("abc", cdnURL)

	rec := env.do(http.MethodGet, "/api/download-video?token=abc", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
}

func TestDownloadUnknownToken(t *testing.T) {
	env := newTestEnv(t, nil, serveBody("", "x"))

	rec := env.do(http.MethodGet, "/api/download-video?token=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Invalid token", decodeError(t, rec).Error)
	assert.Empty(t, env.cdn.requests())
}

func TestDownloadMissingToken(t *testing.T) {
	env := newTestEnv(t, nil, serveBody("", "x"))

	rec := env.do(http.MethodGet, "/api/download-video", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing token", decodeError(t, rec).Error)
}

func TestDownloadForbiddenHostThenGone(t *testing.T) {
	env := newTestEnv(t, nil, serveBody("", "x"))
	env.store.Put("x", "https://evil.com/a.mp4")

	rec := env.do(http.MethodGet, "/api/download-video?token=x", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Invalid source", decodeError(t, rec).Error)

	rec = env.do(http.MethodGet, "/api/download-video?token=x", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.cdn.requests())
}

func TestDownloadUpstreamStatus(t *testing.T) {
	env := newTestEnv(t, nil, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusGone,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    req,
		}, nil
	})
	env.store.Put("abc", cdnURL)

	rec := env.do(http.MethodGet, "/api/download-video?token=abc", "")
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "Download failed", decodeError(t, rec).Error)
}

func TestDownloadErrorBeforeFirstByte(t *testing.T) {
	env := newTestEnv(t, nil, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    200,
			Header:        http.Header{},
			Body:          io.NopCloser(&brokenReader{}),
			ContentLength: 100,
			Request:       req,
		}, nil
	})
	env.store.Put("abc", cdnURL)

	rec := env.do(http.MethodGet, "/api/download-video?token=abc", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Download failed", decodeError(t, rec).Error)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
}

type brokenReader struct {
	sent bool
	head string
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if !b.sent && b.head != "" {
		b.sent = true
		return copy(p, b.head), nil
	}
	return 0, errors.New("connection reset by peer")
}

func TestDownloadTruncatedAbortsConnection(t *testing.T) {
	env := newTestEnv(t, nil, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    200,
			Header:        http.Header{},
			Body:          io.NopCloser(&brokenReader{head: "partial"}),
			ContentLength: 1000,
			Request:       req,
		}, nil
	})
	env.store.Put("abc", cdnURL)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/download-video?token=abc")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = io.ReadAll(resp.Body)
	assert.Error(t, err)
}

func TestDownloadClientDisconnectStopsUpstream(t *testing.T) {
	upstreamCtx := make(chan context.Context, 1)
	chunks := make(chan int, 1)
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCtx <- r.Context()
		w.Header().Set("Content-Type", "video/mp4")
		chunk := make([]byte, 32*1024)
		sent := 0
		defer func() { chunks <- sent }()
		for sent < 10000 {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			w.(http.Flusher).Flush()
			sent++
		}
	}))
	defer upstream.Close()

	// Every CDN host resolves to the local TLS upstream.
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, upstream.Listener.Addr().String())
		},
	}
	defer transport.CloseIdleConnections()

	store := services.NewTokenStore(services.TokenStoreOptions{})
	store.Put("abc", "https://scontent.cdninstagram.com/v/t50/clip.mp4")
	r := chi.NewRouter()
	VideoRoutes(r, &VideoHandler{
		Store: store,
		Proxy: services.NewDownloadProxy(store, services.NewUpstreamClient(5*time.Second, transport)),
	})
	front := httptest.NewServer(r)
	defer front.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, front.URL+"/api/download-video?token=abc", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = io.ReadFull(resp.Body, make([]byte, 64*1024))
	require.NoError(t, err)
	cancel()
	resp.Body.Close()

	var uctx context.Context
	select {
	case uctx = <-upstreamCtx:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never received the request")
	}
	select {
	case <-uctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request still open after the client went away")
	}
	select {
	case sent := <-chunks:
		assert.Less(t, sent, 10000, "upstream stopped before sending the whole body")
	case <-time.After(5 * time.Second):
		t.Fatal("upstream handler did not return")
	}
}

func TestFetchIssuesToken(t *testing.T) {
	env := newTestEnv(t, &fakeResolver{res: &services.Resolution{
		MediaURL:  cdnURL,
		Thumbnail: "https://scontent.cdninstagram.com/v/thumb.jpg",
		Title:     "clip",
		Duration:  12.5,
	}}, serveBody("video/mp4", "MP4DATA"))

	rec := env.do(http.MethodPost, "/api/fetch-video", `{"url":"https://www.instagram.com/reel/Cabc123/"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body videoMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "https://www.instagram.com/reel/Cabc123/", body.URL)
	assert.Equal(t, "reel", body.Type)
	assert.Equal(t, "clip", body.Title)
	assert.Equal(t, 12.5, body.Duration)
	assert.Empty(t, body.Username)

	u, err := url.Parse(body.DownloadURL)
	require.NoError(t, err)
	assert.Equal(t, "/api/download-video", u.Path)
	token := u.Query().Get("token")

	stored, ok := env.store.Get(token)
	require.True(t, ok)
	assert.Equal(t, cdnURL, stored)

	rec = env.do(http.MethodGet, body.DownloadURL, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MP4DATA", rec.Body.String())
}

func TestFetchOmitsEmptyFields(t *testing.T) {
	env := newTestEnv(t, &fakeResolver{res: &services.Resolution{MediaURL: cdnURL}}, nil)

	rec := env.do(http.MethodPost, "/api/fetch-video", `{"url":"https://instagram.com/p/xyz/"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "thumbnail")
	assert.NotContains(t, raw, "title")
	assert.NotContains(t, raw, "duration")
	assert.Equal(t, "post", raw["type"])
}

func TestFetchRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, &fakeResolver{res: &services.Resolution{MediaURL: cdnURL}}, nil)

	for _, body := range []string{
		`not json`,
		`{}`,
		`{"url":""}`,
		`{"url":"https://example.com/reel/abc/"}`,
		`{"url":"ftp://instagram.com/reel/abc/"}`,
	} {
		rec := env.do(http.MethodPost, "/api/fetch-video", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Invalid URL", decodeError(t, rec).Error, body)
	}
	assert.Zero(t, env.store.Len())
}

func TestFetchClassifiesResolverErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		title  string
	}{
		{&services.ResolveError{Code: "error.api.content.post.private", Status: 400}, 404, "Video not found"},
		{&services.ResolveError{Code: "error.api.fetch.fail", Status: 401}, 503, "Service temporarily unavailable"},
		{&services.ResolveError{Code: "error.api.rate_exceeded", Status: 429}, 429, "Too many requests"},
		{errors.New("login required"), 503, "Service temporarily unavailable"},
		{errors.New("something odd"), 500, "Failed to fetch video"},
	}
	for _, tc := range cases {
		env := newTestEnv(t, &fakeResolver{err: tc.err}, nil)
		rec := env.do(http.MethodPost, "/api/fetch-video", `{"url":"https://www.instagram.com/reel/abc/"}`)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, tc.title, decodeError(t, rec).Error, tc.err.Error())
		assert.Zero(t, env.store.Len())
	}
}

func TestFetchEmptyResolution(t *testing.T) {
	env := newTestEnv(t, &fakeResolver{res: &services.Resolution{}}, nil)

	rec := env.do(http.MethodPost, "/api/fetch-video", `{"url":"https://www.instagram.com/reel/abc/"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Video not found or unavailable", decodeError(t, rec).Error)
}

func TestFetchExtractsUsername(t *testing.T) {
	env := newTestEnv(t, &fakeResolver{res: &services.Resolution{MediaURL: cdnURL}}, nil)

	rec := env.do(http.MethodPost, "/api/fetch-video", `{"url":"https://www.instagram.com/stories/someone/123/"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body videoMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "someone", body.Username)
}
