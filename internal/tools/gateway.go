// Package tools invokes namespaced remote tools (calendar.* and email.*)
// against their backends and loads their schema catalogs.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/slotline/bookings-agent/pkg/auth"
	"github.com/slotline/bookings-agent/pkg/logger"
)

const (
	NamespaceCalendar = "calendar"
	NamespaceEmail    = "email"
)

// BackendError carries the status and message of a failed backend call so
// the conversation can surface it and continue.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("tool backend error (status %d): %s", e.Status, e.Message)
}

// Gateway is the single entry point for remote tool invocation. It is
// stateless and never retries; retries are caller policy.
type Gateway struct {
	calendarBase string
	emailBase    string
	client       *http.Client
	secret       string
	verifiedTTL  time.Duration
}

func NewGateway(calendarBase, emailBase string, timeout time.Duration, secret string, verifiedTTL time.Duration) *Gateway {
	return &Gateway{
		calendarBase: strings.TrimRight(calendarBase, "/"),
		emailBase:    strings.TrimRight(emailBase, "/"),
		client:       &http.Client{Timeout: timeout},
		secret:       secret,
		verifiedTTL:  verifiedTTL,
	}
}

// Catalog fetches and merges the tool schemas of both backends.
func (g *Gateway) Catalog(ctx context.Context) ([]Schema, error) {
	calTools, err := fetchTools(ctx, g.client, g.calendarBase, NamespaceCalendar)
	if err != nil {
		return nil, err
	}
	emailTools, err := fetchTools(ctx, g.client, g.emailBase, NamespaceEmail)
	if err != nil {
		return nil, err
	}
	return append(calTools, emailTools...), nil
}

// Invoke calls the named tool on its backend. The namespace picks the base
// URL and is stripped from the name on the wire. Calendar calls made by a
// verified session carry the verified signal; email is the verification
// channel itself and never does.
func (g *Gateway) Invoke(ctx context.Context, name string, args map[string]any, verified bool) (any, error) {
	namespace, short, ok := splitName(name)
	if !ok {
		return nil, &ValidationError{Tool: name, Reason: "tool name must be namespaced as calendar.* or email.*"}
	}

	var base string
	switch namespace {
	case NamespaceCalendar:
		base = g.calendarBase
	case NamespaceEmail:
		base = g.emailBase
	default:
		return nil, &ValidationError{Tool: name, Reason: fmt.Sprintf("unknown tool namespace %q", namespace)}
	}

	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(map[string]any{"name": short, "arguments": args})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/call", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if namespace == NamespaceCalendar && verified {
		token, err := auth.NewVerifiedToken(emailArg(args), g.secret, g.verifiedTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to sign verified token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Verified", "true")
	}

	logger.DebugContext(ctx, "Invoking tool", "tool", name, "base", base)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &BackendError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &BackendError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	var payload struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &BackendError{Status: resp.StatusCode, Message: fmt.Sprintf("undecodable response: %v", err)}
	}

	var result any
	if len(payload.Result) > 0 {
		if err := json.Unmarshal(payload.Result, &result); err != nil {
			return nil, &BackendError{Status: resp.StatusCode, Message: fmt.Sprintf("undecodable result: %v", err)}
		}
	}
	return result, nil
}

func splitName(name string) (namespace, short string, ok bool) {
	namespace, short, found := strings.Cut(name, ".")
	if !found || namespace == "" || short == "" {
		return "", "", false
	}
	return namespace, short, true
}

// emailArg pulls a best-effort subject for the verified claim; the token is
// about the session, not the specific call, so an empty email is acceptable.
func emailArg(args map[string]any) string {
	if s, ok := args["email"].(string); ok {
		return s
	}
	return ""
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}
