package errors

import "strings"

// HasExplicitHTTPStatus checks whether an error string contains an explicit
// reference to the given status code (e.g. "HTTP 401", "status=429").
func HasExplicitHTTPStatus(lower string, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || lower == "" {
		return false
	}
	patterns := []string{
		"http " + code,
		"http/1.1 " + code,
		"http/2 " + code,
		"status " + code,
		"status=" + code,
		"status:" + code,
		"statuscode " + code,
		"statuscode=" + code,
		"status code " + code,
		"code " + code,
		"code=" + code,
		"code:" + code,
		"response status " + code,
		"response code " + code,
	}
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// TransportErrorClass describes the category and retry semantics of a
// transport-level error observed by the image acquirer (C4) or the model
// client (C7).
type TransportErrorClass struct {
	Category  string
	Retryable bool
}

// ClassifyTransportError categorizes a transport/transport-adjacent error
// string into a class driving retry decisions. Grounded on the upstream
// error classification the teacher used for its HTTP proxy, generalized
// from account/session errors to store/CDN/model-endpoint errors.
func ClassifyTransportError(errStr string) TransportErrorClass {
	lower := strings.ToLower(errStr)
	switch {
	case strings.Contains(lower, "context canceled") || strings.Contains(lower, "canceled"):
		return TransportErrorClass{Category: "canceled", Retryable: false}
	case HasExplicitHTTPStatus(lower, "401") || strings.Contains(lower, "unauthorized"):
		return TransportErrorClass{Category: "auth", Retryable: false}
	case HasExplicitHTTPStatus(lower, "403") || strings.Contains(lower, "forbidden"):
		return TransportErrorClass{Category: "auth", Retryable: false}
	case HasExplicitHTTPStatus(lower, "404"):
		return TransportErrorClass{Category: "not_found", Retryable: false}
	case strings.Contains(lower, "invalid_scope") || strings.Contains(lower, "refresh error"):
		// Auth-scope renewal failures: log a remediation hint but keep
		// retrying per spec.md §4.7 rule 6 — the credential may still
		// refresh successfully on a later attempt.
		return TransportErrorClass{Category: "auth_scope", Retryable: true}
	case HasExplicitHTTPStatus(lower, "429") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "resource exhausted"):
		return TransportErrorClass{Category: "rate_limit", Retryable: true}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "context deadline"):
		return TransportErrorClass{Category: "timeout", Retryable: true}
	case strings.Contains(lower, "connection reset") || strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "unexpected eof") || strings.Contains(lower, "use of closed") ||
		strings.Contains(lower, "broken pipe") || strings.HasSuffix(lower, ": eof") || lower == "eof":
		return TransportErrorClass{Category: "network", Retryable: true}
	case HasExplicitHTTPStatus(lower, "500") || HasExplicitHTTPStatus(lower, "502") || HasExplicitHTTPStatus(lower, "503") || HasExplicitHTTPStatus(lower, "504"):
		return TransportErrorClass{Category: "server", Retryable: true}
	default:
		return TransportErrorClass{Category: "unknown", Retryable: true}
	}
}
