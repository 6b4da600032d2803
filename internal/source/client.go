// Package source implements the client for the external collection table the
// catalog synchronizes against, including tenant auth, paginated record
// listing, and attachment download.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/provender/shelfsync/pkg/errors"
	"github.com/provender/shelfsync/pkg/logging"
)

const (
	// DefaultPageSize is the maximum page size the records endpoint accepts.
	DefaultPageSize = 500

	// DefaultDownloadDelay paces attachment downloads to stay under the
	// source's rate limits.
	DefaultDownloadDelay = 500 * time.Millisecond

	// tokenSkew refreshes the tenant token this long before its declared
	// expiry.
	tokenSkew = 300 * time.Second
)

// Config carries the source credentials and table coordinates.
type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
	AppToken  string // Table application token
	TableID   string

	PageSize      int
	DownloadDelay time.Duration
}

// Client talks to the collection table API. Safe for concurrent use; the
// tenant token is cached and refreshed ahead of expiry.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu           sync.Mutex
	token        string
	tokenExpiry  time.Time
	lastDownload time.Time
}

// NewClient creates a source client. Zero-valued tuning fields fall back to
// the defaults.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, errors.NewConfigError("source", "app credentials are required", nil)
	}
	if cfg.AppToken == "" || cfg.TableID == "" {
		return nil, errors.NewConfigError("source", "app token and table ID are required", nil)
	}
	if cfg.PageSize <= 0 || cfg.PageSize > DefaultPageSize {
		cfg.PageSize = DefaultPageSize
	}
	// Zero means default; negative disables pacing entirely.
	if cfg.DownloadDelay == 0 {
		cfg.DownloadDelay = DefaultDownloadDelay
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

// Token returns a valid tenant access token, fetching a fresh one when the
// cached token is within the refresh skew of expiring.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/open-apis/auth/v3/tenant_access_token/internal",
		bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.WrapAPI("source", 0, err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", errors.NewAPIError("source", resp.StatusCode, "malformed token response")
	}
	if tr.Code != 0 {
		return "", errors.NewAPIError("source", resp.StatusCode,
			fmt.Sprintf("token request rejected (code %d): %s", tr.Code, tr.Msg))
	}

	expire := tr.Expire
	if expire <= 0 {
		expire = 7200
	}

	c.token = tr.TenantAccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(expire)*time.Second - tokenSkew)

	logging.Debug().
		Int("expire_s", expire).
		Msg("Refreshed tenant access token")
	return c.token, nil
}

type recordsResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		HasMore   bool     `json:"has_more"`
		PageToken string   `json:"page_token"`
		Items     []Record `json:"items"`
	} `json:"data"`
}

// Records fetches every record of the configured table, following pagination
// until the source reports no more pages.
func (c *Client) Records(ctx context.Context) ([]Record, error) {
	var all []Record
	pageToken := ""

	for {
		page, next, err := c.recordsPage(ctx, pageToken)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		if next == "" {
			break
		}
		pageToken = next

		logging.Debug().
			Int("fetched", len(all)).
			Msg("Fetching next record page")
	}

	logging.Info().
		Int("records", len(all)).
		Msg("Fetched source snapshot")
	return all, nil
}

func (c *Client) recordsPage(ctx context.Context, pageToken string) ([]Record, string, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, "", err
	}

	endpoint := fmt.Sprintf("%s/open-apis/bitable/v1/apps/%s/tables/%s/records",
		c.cfg.BaseURL, c.cfg.AppToken, c.cfg.TableID)

	q := url.Values{}
	q.Set("page_size", fmt.Sprintf("%d", c.cfg.PageSize))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build records request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", errors.WrapAPI("source", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", errors.NewAPIError("source", resp.StatusCode, "records request failed")
	}

	var rr recordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, "", errors.NewAPIError("source", resp.StatusCode, "malformed records response")
	}
	if rr.Code != 0 {
		return nil, "", errors.NewAPIError("source", resp.StatusCode,
			fmt.Sprintf("records request rejected (code %d): %s", rr.Code, rr.Msg))
	}

	if !rr.Data.HasMore {
		return rr.Data.Items, "", nil
	}
	return rr.Data.Items, rr.Data.PageToken, nil
}

// Download fetches an attachment's bytes by file token. Consecutive downloads
// are paced by the configured delay.
func (c *Client) Download(ctx context.Context, fileToken string) ([]byte, error) {
	if fileToken == "" {
		return nil, errors.NewValidationError("file_token", "", "attachment has no file token")
	}

	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/open-apis/drive/v1/medias/%s/download", c.cfg.BaseURL, fileToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapAPI("source", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewAPIError("source", resp.StatusCode, "attachment download failed")
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapAPI("source", resp.StatusCode, err)
	}
	return data, nil
}

// pace sleeps out the remainder of the download delay since the previous
// download, honoring cancellation.
func (c *Client) pace(ctx context.Context) error {
	if c.cfg.DownloadDelay <= 0 {
		return nil
	}

	c.mu.Lock()
	wait := c.cfg.DownloadDelay - time.Since(c.lastDownload)
	c.lastDownload = time.Now().Add(wait)
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
