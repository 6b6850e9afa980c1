// Package authclient talks to the agrosense backend for signup, OTP
// delivery, OTP verification and the profile lookup.
//
// Every call is a single attempt. Failures come back as one of
// *validate.Error, *NetworkError or *DomainError; UserMessage turns any of
// them into the text shown to the user.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/agrosense/internal/cookie"
	"github.com/dgellow/agrosense/internal/log"
	"github.com/dgellow/agrosense/internal/metrics"
	"github.com/dgellow/agrosense/internal/session"
	"github.com/dgellow/agrosense/internal/validate"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const maxBodyBytes = 1 << 20

// AuthType distinguishes completing a signup from logging in
type AuthType string

const (
	AuthSignup AuthType = "signup"
	AuthLogin  AuthType = "login"
)

// ParseAuthType accepts the auth_type route parameter
func ParseAuthType(s string) (AuthType, error) {
	switch AuthType(s) {
	case AuthSignup, AuthLogin:
		return AuthType(s), nil
	default:
		return "", fmt.Errorf("unknown auth type %q", s)
	}
}

// Config holds the backend settings
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	SessionCookie string
	DeviceID      string
	Version       string
	// Transport overrides http.DefaultTransport
	Transport http.RoundTripper
}

// Response is the result of a request that only acknowledges
type Response struct {
	Message string
}

// Verification is the result of a successful OTP check
type Verification struct {
	Credential session.Credential
	Message    string
}

// Profile is the signed-in user as the backend knows them
type Profile struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

type apiResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Token   string   `json:"token,omitempty"`
	User    *Profile `json:"user,omitempty"`
}

// Client is safe for concurrent use
type Client struct {
	baseURL       string
	sessionCookie string
	http          *http.Client
}

// New creates a client for the given backend
func New(cfg Config) *Client {
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	sessionCookie := cfg.SessionCookie
	if sessionCookie == "" {
		sessionCookie = cookie.DefaultSessionName
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		sessionCookie: sessionCookie,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &headerTransport{
				base:      base,
				deviceID:  cfg.DeviceID,
				userAgent: "agrosense/" + version,
			},
		},
	}
}

// RequestSignup registers a new user. No request is sent for an invalid
// name or phone number.
func (c *Client) RequestSignup(ctx context.Context, name, phone string) (*Response, error) {
	if err := validate.All(validate.Name(name), validate.PhoneNumber(phone)); err != nil {
		return nil, err
	}

	body := map[string]string{"name": strings.TrimSpace(name), "phoneNumber": phone}
	_, payload, err := c.call(ctx, c.http, OpSignup, http.MethodPost, "/api/user/signup", body)
	if err != nil {
		return nil, err
	}
	return &Response{Message: payload.Message}, nil
}

// RequestOTP asks the backend to send a fresh code. The backend invalidates
// any code sent earlier.
func (c *Client) RequestOTP(ctx context.Context, phone string) (*Response, error) {
	if err := validate.PhoneNumber(phone).Err(); err != nil {
		return nil, err
	}

	body := map[string]string{"phoneNumber": phone}
	_, payload, err := c.call(ctx, c.http, OpSendOTP, http.MethodPost, "/api/user/send-otp", body)
	if err != nil {
		return nil, err
	}
	return &Response{Message: payload.Message}, nil
}

// VerifyOTP checks a code. The credential is taken from the JSON token
// field, or from the session cookie when the body carries none.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string, authType AuthType) (*Verification, error) {
	if err := validate.All(validate.PhoneNumber(phone), validate.OTPCode(code)); err != nil {
		return nil, err
	}
	if _, err := ParseAuthType(string(authType)); err != nil {
		return nil, err
	}

	body := map[string]string{"phoneNumber": phone, "otp": code}
	path := "/api/user/" + string(authType) + "/verify"
	resp, payload, err := c.call(ctx, c.http, OpVerify, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var cred session.Credential
	switch {
	case payload.Token != "":
		cred = session.TokenCredential(payload.Token)
	default:
		ck, ok := cookie.FromResponse(resp, c.sessionCookie)
		if !ok {
			log.LogErrorWithFields("authclient", "Verification succeeded without a credential", map[string]any{
				"phone":  phone,
				"cookie": c.sessionCookie,
			})
			return nil, newDomainError(OpVerify, resp.StatusCode, "")
		}
		cred = session.CookieCredential(ck.Name, ck.Value)
	}

	return &Verification{Credential: cred, Message: payload.Message}, nil
}

// FetchProfile loads the signed-in user's profile
func (c *Client) FetchProfile(ctx context.Context, cred session.Credential) (*Profile, error) {
	_, payload, err := c.call(ctx, c.Authorized(ctx, cred), OpProfile, http.MethodGet, "/api/user/", nil)
	if err != nil {
		return nil, err
	}
	if payload.User == nil {
		return nil, newDomainError(OpProfile, http.StatusOK, "")
	}
	return payload.User, nil
}

// Authorized returns an HTTP client that presents the credential on every
// request: a bearer token through oauth2, or the session cookie.
func (c *Client) Authorized(ctx context.Context, cred session.Credential) *http.Client {
	switch cred.Kind {
	case session.KindToken:
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.Value, TokenType: "Bearer"})
		client := oauth2.NewClient(ctx, src)
		client.Timeout = c.http.Timeout
		return client
	case session.KindCookie:
		return &http.Client{
			Timeout:   c.http.Timeout,
			Transport: &cookieTransport{base: c.http.Transport, name: cred.Name, value: cred.Value},
		}
	default:
		return c.http
	}
}

// call sends one request and decodes the backend envelope. The returned
// response has its body consumed; headers and cookies remain readable.
func (c *Client) call(ctx context.Context, client *http.Client, op, method, path string, body any) (*http.Response, *apiResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := client.Do(req)
	metrics.AuthRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AuthRequestsTotal.WithLabelValues(op, metrics.OutcomeNetwork).Inc()
		log.LogWarnWithFields("authclient", "Request failed", map[string]any{
			"op":         op,
			"request_id": requestID,
			"error":      err.Error(),
		})
		return nil, nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.AuthRequestsTotal.WithLabelValues(op, metrics.OutcomeNetwork).Inc()
		return nil, nil, &NetworkError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	fields := map[string]any{
		"op":          op,
		"request_id":  requestID,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}

	var payload apiResponse
	decodeErr := json.Unmarshal(data, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fields["body"] = snippet(data)
		log.LogWarnWithFields("authclient", "Backend rejected request", fields)
		metrics.AuthRequestsTotal.WithLabelValues(op, metrics.OutcomeDomain).Inc()
		return resp, nil, newDomainError(op, resp.StatusCode, payload.Message)
	}
	if decodeErr != nil {
		fields["body"] = snippet(data)
		log.LogErrorWithFields("authclient", "Malformed backend response", fields)
		metrics.AuthRequestsTotal.WithLabelValues(op, metrics.OutcomeDomain).Inc()
		return resp, nil, newDomainError(op, resp.StatusCode, "")
	}
	if !payload.Success {
		log.LogInfoWithFields("authclient", "Backend declined request", fields)
		metrics.AuthRequestsTotal.WithLabelValues(op, metrics.OutcomeDomain).Inc()
		return resp, nil, newDomainError(op, resp.StatusCode, payload.Message)
	}

	log.LogDebugWithFields("authclient", "Request succeeded", fields)
	metrics.AuthRequestsTotal.WithLabelValues(op, metrics.OutcomeSuccess).Inc()
	return resp, &payload, nil
}

// snippet keeps a bounded excerpt of a response body for logs
func snippet(data []byte) string {
	const limit = 512
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
