// Package papi is a minimal client for the Polaris API (PAPI): HMAC request
// signing, staff override authentication and the patron update call.
package papi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/patronupdate/internal/config"
	"github.com/JonMunkholm/patronupdate/internal/patron"
)

const (
	publicPath    = "/PAPIService/REST/public/v1"
	protectedPath = "/PAPIService/REST/protected/v1"

	// tokenSlack renews the staff token this long before it expires.
	tokenSlack = time.Minute

	// defaultTokenTTL applies when the server's AuthExpDate is unreadable.
	defaultTokenTTL = 15 * time.Minute
)

// Client talks to one PAPI service. It is safe for concurrent use, though the
// update pipeline only ever uses it from one goroutine.
type Client struct {
	baseURL   string
	accessID  string
	accessKey []byte
	scope     string // "{lang}/{app}/{org}"
	cfg       config.PAPIConfig

	http   *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	token *staffToken
}

type staffToken struct {
	accessToken  string
	accessSecret string
	expires      time.Time
}

// New creates a Client. It returns ErrNotConfigured if cfg lacks anything a
// commit run needs. A nil httpClient gets NewHTTPClient(cfg.Timeout, nil).
func New(cfg config.PAPIConfig, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if !cfg.Complete() {
		return nil, fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(cfg.Missing(), ", "))
	}
	if httpClient == nil {
		var err error
		httpClient, err = NewHTTPClient(cfg.Timeout, nil)
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accessID:  cfg.AccessID,
		accessKey: []byte(cfg.AccessKey),
		scope:     fmt.Sprintf("%d/%d/%d", cfg.LangID, cfg.AppID, cfg.OrgID),
		cfg:       cfg,
		http:      httpClient,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// apiResult is the envelope every PAPI response carries.
type apiResult struct {
	PAPIErrorCode int    `json:"PAPIErrorCode"`
	ErrorMessage  string `json:"ErrorMessage"`
}

// UpdatePatron sends a PatronUpdate for barcode. A non-nil error means no
// usable answer came back (transport failure or an unreadable success body);
// a remote rejection is reported in the result instead. An empty response
// body yields a nil result.
func (c *Client) UpdatePatron(ctx context.Context, barcode string, fields map[string]any) (*patron.UpdateResult, error) {
	tok, err := c.staffToken(ctx)
	if err != nil {
		return nil, err
	}

	params := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		params[k] = v
	}
	params["LogonBranchID"] = c.cfg.LogonBranchID
	params["LogonUserID"] = c.cfg.LogonUserID
	params["LogonWorkstationID"] = c.cfg.LogonWorkstationID

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode patron update: %w", err)
	}

	uri := fmt.Sprintf("%s%s/%s/patron/%s", c.baseURL, publicPath, c.scope, url.PathEscape(barcode))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-PAPI-AccessToken", tok.accessToken)
	c.sign(req, tok.accessSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.dropToken(tok)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", uri, err)
	}
	raw = bytes.TrimSpace(raw)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if len(raw) == 0 || string(raw) == "null" {
		if ok {
			return nil, nil
		}
		return &patron.UpdateResult{StatusCode: resp.StatusCode}, nil
	}

	var res apiResult
	if err := json.Unmarshal(raw, &res); err != nil {
		if ok {
			return nil, fmt.Errorf("decode response from %s: %w", uri, err)
		}
		return &patron.UpdateResult{StatusCode: resp.StatusCode}, nil
	}

	return &patron.UpdateResult{
		StatusCode:   resp.StatusCode,
		Succeeded:    ok && res.PAPIErrorCode >= 0,
		ErrorCode:    res.PAPIErrorCode,
		ErrorMessage: res.ErrorMessage,
	}, nil
}

// sign adds the PolarisDate and PWS Authorization headers. secret is empty
// for the staff authentication call itself.
func (c *Client) sign(req *http.Request, secret string) {
	date := c.now().UTC().Format(http.TimeFormat)
	req.Header.Set("PolarisDate", date)
	req.Header.Set("Authorization", "PWS "+c.accessID+":"+Signature(c.accessKey, req.Method, req.URL.String(), date, secret))
}

// Signature computes the PAPI request signature:
// base64(HMAC-SHA1(key, method + uri + date + secret)).
func Signature(key []byte, method, uri, date, secret string) string {
	mac := hmac.New(sha1.New, key)
	mac.Write([]byte(method + uri + date + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
