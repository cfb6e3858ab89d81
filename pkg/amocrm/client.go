// Package amocrm is a client for the amoCRM REST API v4: leads, pipelines and
// users, with OAuth token refresh.
package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/funnel-sync/internal/resilience"
)

// ErrUnauthorized is returned when the API rejects the access token and no
// refresh can fix it.
var ErrUnauthorized = eris.New("amocrm: unauthorized")

// DefaultRateLimit is amoCRM's documented per-integration limit.
const DefaultRateLimit = 7

// Client defines the amoCRM operations used by the sync.
type Client interface {
	// Leads returns one page of leads created inside [q.From, q.To].
	Leads(ctx context.Context, q LeadsQuery) (*LeadsPage, error)
	// Pipeline returns a pipeline with its statuses.
	Pipeline(ctx context.Context, id int64) (*Pipeline, error)
	// Users returns one page of account users.
	Users(ctx context.Context, page int) (*UsersPage, error)
}

// Credentials authenticate the integration. A Permanent token is a long-lived
// key that cannot be refreshed.
type Credentials struct {
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
	Permanent    bool   `mapstructure:"permanent"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request rate. A non-positive rps
// disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithRefreshHook registers a callback receiving every refreshed token pair.
func WithRefreshHook(fn func(Credentials)) Option {
	return func(c *httpClient) {
		c.onRefresh = fn
	}
}

type httpClient struct {
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	onRefresh func(Credentials)

	mu    sync.Mutex
	creds Credentials
}

// NewClient creates a client for the account at baseURL, e.g.
// https://example.amocrm.ru.
func NewClient(baseURL string, creds Credentials, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(DefaultRateLimit, 1),
		retry:   resilience.DefaultRetryConfig(),
		creds:   creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type response struct {
	status int
	body   []byte
}

// getJSON issues a GET and decodes the body into out. A 204 leaves out
// untouched. A 401 triggers at most one token refresh and one retry.
func (c *httpClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	refreshed := false
	for {
		resp, err := c.send(ctx, path, params)
		if err != nil {
			return err
		}

		switch {
		case resp.status == http.StatusUnauthorized:
			if c.permanent() || refreshed {
				return eris.Wrapf(ErrUnauthorized, "amocrm: GET %s", path)
			}
			zap.L().Warn("amocrm: access token rejected, refreshing", zap.String("path", path))
			if err := c.refresh(ctx); err != nil {
				return err
			}
			refreshed = true
			continue
		case resp.status == http.StatusNoContent:
			return nil
		case resp.status < 200 || resp.status >= 300:
			return eris.Errorf("amocrm: GET %s: status %d: %s", path, resp.status, snippet(resp.body))
		}

		if err := json.Unmarshal(resp.body, out); err != nil {
			return eris.Wrapf(err, "amocrm: decode %s", path)
		}
		return nil
	}
}

// send performs one throttled GET, retrying network errors and transient
// statuses.
func (c *httpClient) send(ctx context.Context, path string, params url.Values) (response, error) {
	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("amocrm", path)
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return response{}, eris.Wrap(err, "amocrm: rate limit")
			}
		}

		u := c.baseURL + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return response{}, eris.Wrap(err, "amocrm: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken())
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return response{}, eris.Wrapf(err, "amocrm: GET %s", path)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return response{}, eris.Wrapf(err, "amocrm: read %s", path)
		}
		if te := resilience.FromResponse(fmt.Errorf("amocrm: GET %s: status %d", path, resp.StatusCode), resp); te != nil {
			return response{}, te
		}
		return response{status: resp.StatusCode, body: body}, nil
	})
}

type tokenResponse struct {
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// refresh exchanges the refresh token for a new token pair.
func (c *httpClient) refresh(ctx context.Context) error {
	c.mu.Lock()
	payload := map[string]string{
		"client_id":     c.creds.ClientID,
		"client_secret": c.creds.ClientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": c.creds.RefreshToken,
		"redirect_uri":  c.creds.RedirectURI,
	}
	c.mu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "amocrm: marshal refresh request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/access_token", bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "amocrm: create refresh request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "amocrm: refresh token")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "amocrm: read refresh response")
	}
	if resp.StatusCode != http.StatusOK {
		zap.L().Error("amocrm: token refresh rejected", zap.Int("status", resp.StatusCode))
		return eris.Wrapf(ErrUnauthorized, "amocrm: refresh token: status %d: %s", resp.StatusCode, snippet(respBody))
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return eris.Wrap(err, "amocrm: decode refresh response")
	}
	if tr.AccessToken == "" {
		return eris.Wrap(ErrUnauthorized, "amocrm: refresh response without access token")
	}

	c.mu.Lock()
	c.creds.AccessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		c.creds.RefreshToken = tr.RefreshToken
	}
	creds := c.creds
	c.mu.Unlock()

	zap.L().Info("amocrm: access token refreshed")
	if c.onRefresh != nil {
		c.onRefresh(creds)
	}
	return nil
}

func (c *httpClient) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.AccessToken
}

func (c *httpClient) permanent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.Permanent
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
