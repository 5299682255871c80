package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	apiPath         = "/collab/api/csa"
	jwtBearerGrant  = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL    = 5 * time.Minute
	tokenRenewSkew  = 10 * time.Second
	maxErrorBodyLen = 512
)

var (
	ErrAuthentication = errors.New("collab authentication failed")
	ErrNotFound       = errors.New("collab recording not found")
)

type Config struct {
	RegionHost string
	LTIKey     string
	LTISecret  string
	Timeout    time.Duration
}

// Client talks to the Collaborate scheduling API with a jwt-bearer token
// that is renewed when it expires.
type Client struct {
	baseURL string
	key     string
	secret  []byte
	client  *http.Client
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewClient(cfg Config) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.RegionHost), "/")
	if host == "" {
		return nil, fmt.Errorf("region host is required")
	}
	if _, err := url.ParseRequestURI(host); err != nil {
		return nil, fmt.Errorf("invalid region host %q: %w", cfg.RegionHost, err)
	}
	if strings.TrimSpace(cfg.LTIKey) == "" {
		return nil, fmt.Errorf("lti key is required")
	}
	if cfg.LTISecret == "" {
		return nil, fmt.Errorf("lti secret is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: host + apiPath,
		key:     strings.TrimSpace(cfg.LTIKey),
		secret:  []byte(cfg.LTISecret),
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}, nil
}

// Token returns a cached access token, requesting a new one once the
// previous token has expired.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}
	token, expiresIn, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = c.now().Add(expiresIn - tokenRenewSkew)
	return c.token, nil
}

func (c *Client) requestToken(ctx context.Context) (string, time.Duration, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    c.key,
		Subject:   c.key,
		ExpiresAt: jwt.NewNumericDate(c.now().Add(assertionTTL)),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign token assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("build token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.key, string(c.secret))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("request token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read token response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: status=%d body=%s", ErrAuthentication, resp.StatusCode, truncate(rawBody))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: empty access token", ErrAuthentication)
	}
	return parsed.AccessToken, time.Duration(parsed.ExpiresIn) * time.Second, nil
}

// DownloadURL asks the API for a signed download link of one recording.
func (c *Client) DownloadURL(ctx context.Context, recordingUID string) (string, error) {
	recordingUID = strings.TrimSpace(recordingUID)
	if recordingUID == "" {
		return "", fmt.Errorf("recording uid is required")
	}
	token, err := c.Token(ctx)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/recordings/" + url.PathEscape(recordingUID) + "/url?disposition=download"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build download url request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request download url: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read download url response body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNotFound, recordingUID)
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidate()
		return "", fmt.Errorf("%w: status=%d", ErrAuthentication, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("download url failed status=%d body=%s", resp.StatusCode, truncate(rawBody))
	}

	var parsed struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", fmt.Errorf("decode download url response: %w", err)
	}
	if parsed.URL == "" {
		return "", fmt.Errorf("download url response has no url")
	}
	return parsed.URL, nil
}

// Fetch opens a signed media URL. The caller closes the body.
func (c *Client) Fetch(ctx context.Context, mediaURL string) (io.ReadCloser, int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build media request: %w", err)
	}
	// No client timeout: recordings can be several gigabytes.
	streaming := &http.Client{Transport: c.client.Transport}
	resp, err := streaming.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("request media: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("media download failed status=%d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyLen {
		return string(body[:maxErrorBodyLen]) + "..."
	}
	return string(body)
}
