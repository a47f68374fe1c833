// Package papitest runs a fake PAPI service for tests. It checks request
// signatures the way the real service does, issues staff tokens, records
// every patron update and answers with scripted responses.
package papitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/patronupdate/internal/config"
	"github.com/JonMunkholm/patronupdate/internal/papi"
)

// Credentials the fake accepts.
const (
	AccessID      = "test-access-id"
	AccessKey     = "test-access-key"
	StaffDomain   = "LIBRARY"
	StaffUser     = "override"
	StaffPassword = "override-pass"

	token  = "fake-access-token"
	secret = "fake-access-secret"
)

// Request is one patron update the fake received.
type Request struct {
	Barcode    string
	Body       map[string]any
	Header     http.Header
	ProtoMajor int
}

// Response scripts the answer for a barcode. Raw, when set, is sent verbatim
// instead of the JSON envelope.
type Response struct {
	Status       int
	ErrorCode    int
	ErrorMessage string
	Raw          *string
	Delay        time.Duration
}

// Server is the fake. The zero response for an unscripted barcode is 200
// with PAPIErrorCode 0.
type Server struct {
	*httptest.Server

	// TokenExpiry is the AuthExpDate sent with staff tokens.
	TokenExpiry string

	mu        sync.Mutex
	requests  []Request
	responses map[string]Response
	authCalls int
	authFail  string
}

// New starts a plain HTTP fake and stops it when t finishes.
func New(t testing.TB) *Server {
	s := newServer()
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// NewTLS starts an HTTP/2-capable TLS fake and stops it when t finishes.
// Use Certificate to trust it.
func NewTLS(t testing.TB) *Server {
	s := newServer()
	s.Server = httptest.NewUnstartedServer(s.routes())
	s.EnableHTTP2 = true
	s.StartTLS()
	t.Cleanup(s.Close)
	return s
}

func newServer() *Server {
	return &Server{
		TokenExpiry: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		responses:   make(map[string]Response),
	}
}

// Config returns complete PAPI settings pointing at the fake.
func (s *Server) Config() config.PAPIConfig {
	return config.PAPIConfig{
		BaseURL:            s.URL,
		AccessID:           AccessID,
		AccessKey:          AccessKey,
		LangID:             1033,
		AppID:              100,
		OrgID:              1,
		Timeout:            5 * time.Second,
		OverrideDomain:     StaffDomain,
		OverrideUsername:   StaffUser,
		OverridePassword:   StaffPassword,
		LogonBranchID:      3,
		LogonUserID:        1,
		LogonWorkstationID: 7,
	}
}

// Respond scripts the answer for barcode.
func (s *Server) Respond(barcode string, r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[barcode] = r
}

// FailAuth makes staff authentication fail with msg.
func (s *Server) FailAuth(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authFail = msg
}

// Requests returns the patron updates received so far, in order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// AuthCalls returns how many staff authentications were served.
func (s *Server) AuthCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCalls
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/PAPIService/REST/protected/v1/{lang}/{app}/{org}/authenticator/staff", s.handleStaffAuth)
	r.Put("/PAPIService/REST/public/v1/{lang}/{app}/{org}/patron/{barcode}", s.handlePatronUpdate)
	return r
}

func (s *Server) handleStaffAuth(w http.ResponseWriter, r *http.Request) {
	if !s.verify(r, "") {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"PAPIErrorCode": -1, "ErrorMessage": "invalid signature"})
		return
	}

	var creds struct{ Domain, Username, Password string }
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"PAPIErrorCode": -1, "ErrorMessage": "bad request"})
		return
	}

	s.mu.Lock()
	s.authCalls++
	fail := s.authFail
	expiry := s.TokenExpiry
	s.mu.Unlock()

	if fail != "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"PAPIErrorCode": -1, "ErrorMessage": fail})
		return
	}
	if creds.Domain != StaffDomain || creds.Username != StaffUser || creds.Password != StaffPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"PAPIErrorCode": -1, "ErrorMessage": "invalid staff credentials"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"PAPIErrorCode": 0,
		"AccessToken":   token,
		"AccessSecret":  secret,
		"AuthExpDate":   expiry,
	})
}

func (s *Server) handlePatronUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-PAPI-AccessToken") != token || !s.verify(r, secret) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"PAPIErrorCode": -1, "ErrorMessage": "invalid signature"})
		return
	}

	barcode := chi.URLParam(r, "barcode")
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"PAPIErrorCode": -1, "ErrorMessage": "bad request"})
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Barcode:    barcode,
		Body:       body,
		Header:     r.Header.Clone(),
		ProtoMajor: r.ProtoMajor,
	})
	resp, ok := s.responses[barcode]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"PAPIErrorCode": 0, "ErrorMessage": ""})
		return
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.Raw != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, *resp.Raw)
		return
	}
	writeJSON(w, status, map[string]any{"PAPIErrorCode": resp.ErrorCode, "ErrorMessage": resp.ErrorMessage})
}

// verify recomputes the PWS signature over the absolute request URI.
func (s *Server) verify(r *http.Request, accessSecret string) bool {
	auth := r.Header.Get("Authorization")
	date := r.Header.Get("PolarisDate")
	if date == "" || !strings.HasPrefix(auth, "PWS "+AccessID+":") {
		return false
	}
	if _, err := time.Parse(http.TimeFormat, date); err != nil {
		return false
	}

	uri := s.URL + r.URL.RequestURI()
	want := papi.Signature([]byte(AccessKey), r.Method, uri, date, accessSecret)
	return strings.TrimPrefix(auth, "PWS "+AccessID+":") == want
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Raw is a helper for Response.Raw.
func Raw(s string) *string { return &s }
