package papi_test

import (
	"context"
	"crypto/x509"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/patronupdate/internal/config"
	"github.com/JonMunkholm/patronupdate/internal/logging"
	"github.com/JonMunkholm/patronupdate/internal/papi"
	"github.com/JonMunkholm/patronupdate/internal/papi/papitest"
	"github.com/JonMunkholm/patronupdate/internal/patron"
)

func newClient(t *testing.T, srv *papitest.Server) *papi.Client {
	t.Helper()
	c, err := papi.New(srv.Config(), nil, logging.Discard())
	require.NoError(t, err)
	return c
}

func TestNew_NotConfigured(t *testing.T) {
	_, err := papi.New(config.PAPIConfig{BaseURL: "https://catalog.example.org"}, nil, nil)
	require.ErrorIs(t, err, papi.ErrNotConfigured)
	assert.Contains(t, err.Error(), "PAPI_ACCESS_ID")
}

func TestUpdatePatron_Success(t *testing.T) {
	srv := papitest.New(t)
	c := newClient(t, srv)

	exp := time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC)
	res, err := c.UpdatePatron(context.Background(), "21000001", map[string]any{
		patron.FieldEmailAddress:   "x@y.com",
		patron.FieldEnableSMS:      false,
		patron.FieldExpirationDate: exp,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Succeeded)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "21000001", reqs[0].Barcode)
	assert.Equal(t, map[string]any{
		"EmailAddress":       "x@y.com",
		"EnableSMS":          false,
		"ExpirationDate":     "2027-06-30T00:00:00Z",
		"LogonBranchID":      float64(3),
		"LogonUserID":        float64(1),
		"LogonWorkstationID": float64(7),
	}, reqs[0].Body)
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(reqs[0].Header.Get("Authorization"), "PWS "+papitest.AccessID+":"))
}

func TestUpdatePatron_TokenCached(t *testing.T) {
	srv := papitest.New(t)
	c := newClient(t, srv)

	for _, bc := range []string{"1", "2", "3"} {
		res, err := c.UpdatePatron(context.Background(), bc, map[string]any{"User1": "x"})
		require.NoError(t, err)
		assert.True(t, res.Succeeded)
	}
	assert.Equal(t, 1, srv.AuthCalls())
	assert.Len(t, srv.Requests(), 3)
}

func TestUpdatePatron_ExpiredTokenRenewed(t *testing.T) {
	srv := papitest.New(t)
	srv.TokenExpiry = time.Now().Add(30 * time.Second).UTC().Format(time.RFC3339)
	c := newClient(t, srv)

	for _, bc := range []string{"1", "2"} {
		_, err := c.UpdatePatron(context.Background(), bc, map[string]any{"User1": "x"})
		require.NoError(t, err)
	}
	// Inside the renewal window every call authenticates again.
	assert.Equal(t, 2, srv.AuthCalls())
}

func TestUpdatePatron_RemoteError(t *testing.T) {
	srv := papitest.New(t)
	srv.Respond("404", papitest.Response{ErrorCode: -3001, ErrorMessage: "Patron not found"})
	c := newClient(t, srv)

	res, err := c.UpdatePatron(context.Background(), "404", map[string]any{"User1": "x"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Succeeded)
	assert.Equal(t, -3001, res.ErrorCode)
	assert.Equal(t, "Patron not found", res.ErrorMessage)
}

func TestUpdatePatron_HTTPErrorWithoutBody(t *testing.T) {
	srv := papitest.New(t)
	srv.Respond("down", papitest.Response{Status: http.StatusBadGateway, Raw: papitest.Raw("")})
	c := newClient(t, srv)

	res, err := c.UpdatePatron(context.Background(), "down", map[string]any{"User1": "x"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Succeeded)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
}

func TestUpdatePatron_EmptyBodyIsNilResult(t *testing.T) {
	srv := papitest.New(t)
	srv.Respond("empty", papitest.Response{Raw: papitest.Raw("null")})
	c := newClient(t, srv)

	res, err := c.UpdatePatron(context.Background(), "empty", map[string]any{"User1": "x"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestUpdatePatron_GarbledSuccessBody(t *testing.T) {
	srv := papitest.New(t)
	srv.Respond("garbled", papitest.Response{Raw: papitest.Raw("<html>")})
	c := newClient(t, srv)

	_, err := c.UpdatePatron(context.Background(), "garbled", map[string]any{"User1": "x"})
	assert.ErrorContains(t, err, "decode response")
}

func TestUpdatePatron_UnauthorizedDropsToken(t *testing.T) {
	for name, raw := range map[string]string{"empty body": "", "non-json body": "Unauthorized"} {
		t.Run(name, func(t *testing.T) {
			srv := papitest.New(t)
			srv.Respond("stale", papitest.Response{Status: http.StatusUnauthorized, Raw: papitest.Raw(raw)})
			c := newClient(t, srv)

			res, err := c.UpdatePatron(context.Background(), "stale", map[string]any{"User1": "x"})
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.False(t, res.Succeeded)
			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

			_, err = c.UpdatePatron(context.Background(), "fresh", map[string]any{"User1": "x"})
			require.NoError(t, err)
			assert.Equal(t, 2, srv.AuthCalls(), "token is renewed after a 401")
		})
	}
}

func TestUpdatePatron_AuthFailure(t *testing.T) {
	srv := papitest.New(t)
	srv.FailAuth("account locked")
	c := newClient(t, srv)

	_, err := c.UpdatePatron(context.Background(), "1", map[string]any{"User1": "x"})
	require.ErrorIs(t, err, papi.ErrAuth)
	assert.Contains(t, err.Error(), "account locked")
	assert.Contains(t, papi.Describe(err), "AUTH001")
	assert.Empty(t, srv.Requests())
}

func TestUpdatePatron_BadStaffCredentials(t *testing.T) {
	srv := papitest.New(t)
	cfg := srv.Config()
	cfg.OverridePassword = "wrong"
	c, err := papi.New(cfg, nil, logging.Discard())
	require.NoError(t, err)

	_, err = c.UpdatePatron(context.Background(), "1", map[string]any{"User1": "x"})
	assert.ErrorIs(t, err, papi.ErrAuth)
	assert.Contains(t, err.Error(), "invalid staff credentials")
}

func TestUpdatePatron_WrongKeyRejected(t *testing.T) {
	srv := papitest.New(t)
	cfg := srv.Config()
	cfg.AccessKey = "not-the-key"
	c, err := papi.New(cfg, nil, logging.Discard())
	require.NoError(t, err)

	_, err = c.UpdatePatron(context.Background(), "1", map[string]any{"User1": "x"})
	assert.ErrorIs(t, err, papi.ErrAuth)
	assert.Contains(t, err.Error(), "invalid signature")
}

func TestUpdatePatron_Timeout(t *testing.T) {
	srv := papitest.New(t)
	srv.Respond("slow", papitest.Response{Delay: 2 * time.Second})
	cfg := srv.Config()
	cfg.Timeout = 50 * time.Millisecond
	c, err := papi.New(cfg, nil, logging.Discard())
	require.NoError(t, err)

	_, err = c.UpdatePatron(context.Background(), "slow", map[string]any{"User1": "x"})
	require.Error(t, err)
	assert.Equal(t, "NET004", papi.Classify(err).Code)
}

func TestUpdatePatron_Cancelled(t *testing.T) {
	srv := papitest.New(t)
	c := newClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.UpdatePatron(ctx, "1", map[string]any{"User1": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestUpdatePatron_ConnectionRefused(t *testing.T) {
	srv := papitest.New(t)
	cfg := srv.Config()
	srv.Close()

	c, err := papi.New(cfg, nil, logging.Discard())
	require.NoError(t, err)

	_, err = c.UpdatePatron(context.Background(), "1", map[string]any{"User1": "x"})
	require.Error(t, err)
	assert.Equal(t, "NET001", papi.Classify(err).Code)
}

func TestUpdatePatron_HTTP2OverTLS(t *testing.T) {
	srv := papitest.NewTLS(t)

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	hc, err := papi.NewHTTPClient(5*time.Second, pool)
	require.NoError(t, err)

	c, err := papi.New(srv.Config(), hc, logging.Discard())
	require.NoError(t, err)

	res, err := c.UpdatePatron(context.Background(), "21000001", map[string]any{"User2": "v"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 2, reqs[0].ProtoMajor)
}

func TestUpdatePatron_UntrustedCertificate(t *testing.T) {
	srv := papitest.NewTLS(t)
	c := newClient(t, srv)

	_, err := c.UpdatePatron(context.Background(), "1", map[string]any{"User1": "x"})
	require.Error(t, err)
	assert.Equal(t, "TLS001", papi.Classify(err).Code)
}

func TestSignature(t *testing.T) {
	// Stable output for fixed input.
	a := papi.Signature([]byte("key"), "GET", "https://h/p", "Wed, 01 Jan 2026 00:00:00 GMT", "")
	b := papi.Signature([]byte("key"), "GET", "https://h/p", "Wed, 01 Jan 2026 00:00:00 GMT", "")
	c := papi.Signature([]byte("key"), "GET", "https://h/p", "Wed, 01 Jan 2026 00:00:00 GMT", "s")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 28) // base64 of a 20-byte SHA-1 MAC
}
