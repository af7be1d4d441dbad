package zohobooks

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	orgHeader      = "X-com-zoho-books-organizationid"
	maxErrBodySize = 2048
)

type ClientConfig struct {
	BaseURL         string
	OrganizationID  string
	Timeout         time.Duration
	RateLimitPerMin int
	HTTPClient      *http.Client
}

// Client issues authenticated GETs against the Zoho Books API.
type Client struct {
	baseURL string
	orgID   string
	creds   *CredentialManager
	http    *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

func NewClient(cfg ClientConfig, creds *CredentialManager, logger *logrus.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RateLimitPerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RateLimitPerMin))
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		orgID:   cfg.OrganizationID,
		creds:   creds,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Get calls path with params and returns the raw response body.
// A 401 triggers one forced token refresh and one retry; every other failure,
// including a second 401, is returned as *ApiError without retrying.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	cred, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(ctx, path, params, cred.Token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.logger.WithFields(logrus.Fields{
			"field": "zohoClient",
			"path":  path,
		}).Warn("zoho returned 401; refreshing token and retrying once")

		cred, err = c.creds.Refresh(ctx, cred.Token)
		if err != nil {
			return nil, err
		}
		status, body, err = c.do(ctx, path, params, cred.Token)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status >= 300 {
		return nil, &ApiError{
			Method: http.MethodGet,
			Path:   path,
			Status: status,
			Body:   truncate(strings.TrimSpace(string(body)), maxErrBodySize),
		}
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, path string, params url.Values, token string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, &ApiError{Method: http.MethodGet, Path: path, Err: err}
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, &ApiError{Method: http.MethodGet, Path: path, Err: err}
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	if c.orgID != "" {
		req.Header.Set(orgHeader, c.orgID)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		APIRequestsTotal.WithLabelValues(statusClass(0)).Inc()
		return 0, nil, &ApiError{Method: http.MethodGet, Path: path, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	APIRequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	if err != nil {
		return 0, nil, &ApiError{Method: http.MethodGet, Path: path, Status: resp.StatusCode, Timeout: isTimeout(err), Err: err}
	}
	return resp.StatusCode, body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
