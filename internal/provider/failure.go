// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies why a provider call failed.
type Kind string

const (
	KindConfig          Kind = "CONFIG_ERROR"
	KindAuth            Kind = "AUTH_ERROR"
	KindRateLimit       Kind = "RATE_LIMIT"
	KindQuotaExhausted  Kind = "QUOTA_EXHAUSTED"
	KindTimeout         Kind = "TIMEOUT"
	KindNetwork         Kind = "NETWORK_ERROR"
	KindServer          Kind = "SERVER_ERROR"
	KindBadRequest      Kind = "BAD_REQUEST"
	KindInvalidResponse Kind = "INVALID_RESPONSE"
)

// Transient reports whether the failure may succeed when repeated against the same provider.
func (k Kind) Transient() bool {
	switch k {
	case KindTimeout, KindNetwork, KindServer:
		return true
	default:
		return false
	}
}

// Hard reports whether the failure indicates a setup or account problem that
// repeated calls cannot fix.
func (k Kind) Hard() bool {
	switch k {
	case KindConfig, KindAuth, KindQuotaExhausted:
		return true
	default:
		return false
	}
}

// Failure is the classified result of a failed provider call.
type Failure struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(describe(f.Kind))
	if f.Provider != "" {
		b.WriteString(" (")
		b.WriteString(f.Provider)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(f.Message)
	if f.StatusCode > 0 {
		fmt.Fprintf(&b, " [HTTP %d]", f.StatusCode)
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }

func describe(k Kind) string {
	switch k {
	case KindConfig:
		return "configuration error"
	case KindAuth:
		return "authentication error"
	case KindRateLimit:
		return "rate limited"
	case KindQuotaExhausted:
		return "quota exhausted"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network error"
	case KindServer:
		return "server error"
	case KindBadRequest:
		return "request rejected"
	case KindInvalidResponse:
		return "invalid response"
	default:
		return strings.ToLower(string(k))
	}
}

// AsFailure extracts a *Failure from err. Errors that are not classified are
// treated as network failures.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: classifyTransport(err), Message: err.Error(), Err: err}
}

func configFailure(providerID, format string, args ...any) *Failure {
	return &Failure{Kind: KindConfig, Provider: providerID, Message: fmt.Sprintf(format, args...)}
}

// transportFailure classifies an error returned by http.Client.Do.
func transportFailure(providerID string, err error) *Failure {
	kind := classifyTransport(err)
	msg := "could not reach provider: " + err.Error()
	if kind == KindTimeout {
		msg = "provider did not respond before the deadline"
	}
	return &Failure{Kind: kind, Provider: providerID, Message: msg, Err: err}
}

func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// statusFailure classifies a non-2xx response.
func statusFailure(providerID string, status int, body []byte) *Failure {
	detail := summarizeBody(body)
	lower := strings.ToLower(detail)
	f := &Failure{Provider: providerID, StatusCode: status}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		f.Kind = KindAuth
		f.Message = "provider rejected the credential"
	case status == http.StatusPaymentRequired:
		f.Kind = KindQuotaExhausted
		f.Message = "account has no remaining credit"
	case status == http.StatusTooManyRequests:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient") || strings.Contains(lower, "billing") {
			f.Kind = KindQuotaExhausted
			f.Message = "account quota exhausted"
		} else {
			f.Kind = KindRateLimit
			f.Message = "provider is rate limiting requests"
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		f.Kind = KindTimeout
		f.Message = "provider timed out"
	case status >= 500:
		f.Kind = KindServer
		f.Message = "provider returned a server error"
	case status == http.StatusBadRequest && (strings.Contains(lower, "api_key_invalid") || strings.Contains(lower, "api key not valid")):
		f.Kind = KindAuth
		f.Message = "provider rejected the credential"
	case status == http.StatusNotFound:
		f.Kind = KindConfig
		f.Message = "endpoint or model not found, check base-url and models"
	default:
		f.Kind = KindBadRequest
		f.Message = "provider rejected the request"
	}
	if detail != "" {
		f.Message += ": " + detail
	}
	return f
}

func summarizeBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 240 {
		s = s[:240] + "..."
	}
	return s
}
