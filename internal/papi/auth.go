package papi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type staffAuthRequest struct {
	Domain   string `json:"Domain"`
	Username string `json:"Username"`
	Password string `json:"Password"`
}

type staffAuthResult struct {
	apiResult
	AccessToken  string `json:"AccessToken"`
	AccessSecret string `json:"AccessSecret"`
	AuthExpDate  string `json:"AuthExpDate"`
}

// staffToken returns a cached override token, authenticating when there is
// none or it is about to expire.
func (c *Client) staffToken(ctx context.Context) (*staffToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && c.now().Add(tokenSlack).Before(c.token.expires) {
		return c.token, nil
	}

	tok, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	c.token = tok
	c.logger.Debug("staff token acquired", "expires", tok.expires)
	return tok, nil
}

// dropToken forgets tok so the next call authenticates again.
func (c *Client) dropToken(tok *staffToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == tok {
		c.token = nil
	}
}

func (c *Client) authenticate(ctx context.Context) (*staffToken, error) {
	body, err := json.Marshal(staffAuthRequest{
		Domain:   c.cfg.OverrideDomain,
		Username: c.cfg.OverrideUsername,
		Password: c.cfg.OverridePassword,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrAuth, err)
	}

	uri := fmt.Sprintf("%s%s/%s/authenticator/staff", c.baseURL, protectedPath, c.scope)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.sign(req, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrAuth, err)
	}

	var res staffAuthResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: HTTP %d: unreadable response", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || res.PAPIErrorCode < 0 || res.AccessToken == "" {
		msg := res.ErrorMessage
		if msg == "" {
			msg = "no access token returned"
		}
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrAuth, resp.StatusCode, msg)
	}

	expires, ok := parseAuthExpDate(res.AuthExpDate)
	if !ok {
		expires = c.now().Add(defaultTokenTTL)
	}

	return &staffToken{
		accessToken:  res.AccessToken,
		accessSecret: res.AccessSecret,
		expires:      expires,
	}, nil
}

// parseAuthExpDate reads either an RFC 3339 timestamp or the WCF form
// "/Date(1700000000000-0500)/".
func parseAuthExpDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if strings.HasPrefix(s, "/Date(") && strings.HasSuffix(s, ")/") {
		inner := s[len("/Date(") : len(s)-len(")/")]
		if inner == "" {
			return time.Time{}, false
		}
		// The offset is informational; the millis are already UTC.
		if i := strings.IndexAny(inner[1:], "+-"); i >= 0 {
			inner = inner[:i+1]
		}
		ms, err := strconv.ParseInt(inner, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
