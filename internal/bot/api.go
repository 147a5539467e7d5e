package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var errTooLarge = errors.New("file exceeds Discord upload limit")

type apiClient struct {
	baseURL   string
	publicURL string
	client    *http.Client
	dlClient  *http.Client
}

type fetchResponse struct {
	URL         string  `json:"url"`
	Thumbnail   string  `json:"thumbnail"`
	Title       string  `json:"title"`
	Username    string  `json:"username"`
	DownloadURL string  `json:"downloadUrl"`
	Type        string  `json:"type"`
	Duration    float64 `json:"duration"`
}

// apiError is the JSON error envelope returned by the reelsave API.
type apiError struct {
	Status  int    `json:"-"`
	Title   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Title != "" {
		return e.Title
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

func newAPIClient(baseURL, publicURL string) *apiClient {
	baseURL = strings.TrimRight(baseURL, "/")
	publicURL = strings.TrimRight(publicURL, "/")
	if publicURL == "" {
		publicURL = baseURL
	}
	return &apiClient{
		baseURL:   baseURL,
		publicURL: publicURL,
		client:    &http.Client{Timeout: 60 * time.Second},
		dlClient:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (a *apiClient) fetchVideo(ctx context.Context, rawURL string) (*fetchResponse, error) {
	body, err := json.Marshal(map[string]string{"url": rawURL})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/fetch-video", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode}
		json.Unmarshal(data, apiErr)
		return nil, apiErr
	}

	var out fetchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.DownloadURL == "" {
		return nil, errors.New("API returned no download link")
	}
	return &out, nil
}

// downloadFile fetches downloadPath from the API, refusing anything larger
// than maxBytes. When the API reports a Content-Length over the limit the
// body is never read and errTooLarge is returned.
func (a *apiClient) downloadFile(ctx context.Context, downloadPath string, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.resolve(a.baseURL, downloadPath), nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := a.dlClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode}
		json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr)
		return nil, "", apiErr
	}
	if resp.ContentLength > maxBytes {
		return nil, "", errTooLarge
	}

	filename := ""
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		_, params, parseErr := mime.ParseMediaType(cd)
		if parseErr == nil {
			filename = params["filename"]
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxBytes {
		return nil, "", errTooLarge
	}
	return data, filename, nil
}

func (a *apiClient) publicDownloadURL(downloadPath string) string {
	return a.resolve(a.publicURL, downloadPath)
}

func (a *apiClient) healthURL() string {
	return a.baseURL + "/health"
}

func (a *apiClient) resolve(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// normalizeURL maps short links and embed-fix mirrors back to instagram.com
// and drops share-tracking query parameters.
func normalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}
	replacements := map[string]string{
		"instagr.am":          "www.instagram.com",
		"www.instagr.am":      "www.instagram.com",
		"ddinstagram.com":     "www.instagram.com",
		"www.ddinstagram.com": "www.instagram.com",
		"kkinstagram.com":     "www.instagram.com",
		"www.kkinstagram.com": "www.instagram.com",
	}
	if replacement, ok := replacements[strings.ToLower(u.Host)]; ok {
		u.Host = replacement
	}
	q := u.Query()
	q.Del("igsh")
	q.Del("igshid")
	q.Del("utm_source")
	u.RawQuery = q.Encode()
	return u.String()
}
