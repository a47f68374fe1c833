package papi

// errors.go turns transport errors into short coded reasons for the run log
// and report. Codes are stable so operators can grep for them:
//
//	NET001 - connection refused         (service down or wrong port)
//	NET002 - connection reset           (dropped mid-request)
//	NET003 - host not found             (bad PAPI_BASE_URL or DNS)
//	NET004 - timed out                  (PAPI_TIMEOUT exceeded)
//	NET005 - cancelled                  (run interrupted)
//	TLS001 - certificate rejected
//	TLS002 - TLS handshake failed
//	AUTH001 - staff authentication failed
//	ERR000 - anything else
//
// Patterns are matched case-insensitively with strings.Contains. The first
// match wins, so specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConfigured is returned by New when PAPI settings are incomplete.
	ErrNotConfigured = errors.New("papi settings incomplete")

	// ErrAuth is wrapped by every staff authentication failure.
	ErrAuth = errors.New("staff authentication failed")
)

// Reason is a classified transport failure.
type Reason struct {
	Code    string
	Message string
}

type errorPattern struct {
	pattern string
	reason  Reason
}

var errorPatterns = []errorPattern{
	{"connection refused", Reason{"NET001", "Connection refused"}},
	{"connection reset", Reason{"NET002", "Connection reset"}},
	{"no such host", Reason{"NET003", "Host not found"}},
	{"x509:", Reason{"TLS001", "Certificate rejected"}},
	{"certificate", Reason{"TLS001", "Certificate rejected"}},
	{"tls:", Reason{"TLS002", "TLS handshake failed"}},
	{"handshake", Reason{"TLS002", "TLS handshake failed"}},
	{"context canceled", Reason{"NET005", "Request cancelled"}},
	{"deadline exceeded", Reason{"NET004", "Request timed out"}},
	{"timeout", Reason{"NET004", "Request timed out"}},
	{"staff authentication failed", Reason{"AUTH001", "Staff authentication failed"}},
}

var defaultReason = Reason{"ERR000", "Request failed"}

// Classify maps err to a Reason. A nil error yields the zero Reason.
func Classify(err error) Reason {
	if err == nil {
		return Reason{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.reason
		}
	}
	return defaultReason
}

// Describe formats err for an outcome reason:
// "Connection refused (Code: NET001): Put ...: dial tcp ...".
func Describe(err error) string {
	if err == nil {
		return ""
	}
	r := Classify(err)
	return fmt.Sprintf("%s (Code: %s): %v", r.Message, r.Code, err)
}
