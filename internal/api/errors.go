package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AuthenticationError reports a 401: credentials rejected or session invalid.
type AuthenticationError struct {
	Body string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication rejected: %s", serverMessage(e.Body))
}

// AuthorizationError reports a 403: authenticated but forbidden.
type AuthorizationError struct {
	Body string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized: %s", serverMessage(e.Body))
}

// UnprocessableError reports a 422: semantic validation failure, most often a
// duplicate name or malformed entity.
type UnprocessableError struct {
	Body string
}

func (e *UnprocessableError) Error() string {
	return fmt.Sprintf("request rejected (422): %s", serverMessage(e.Body))
}

// RequestError is the generic failure for every other non-2xx status,
// carrying the raw body for diagnostic inspection.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Body)
}

// checkResponse maps a completed HTTP response onto the error taxonomy.
// 2xx returns nil; everything else yields exactly one of the typed errors
// above. Every client operation routes its response through here so no
// unmapped status code reaches a caller.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	text := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &AuthenticationError{Body: text}
	case http.StatusForbidden:
		return &AuthorizationError{Body: text}
	case http.StatusUnprocessableEntity:
		return &UnprocessableError{Body: text}
	default:
		return &RequestError{StatusCode: resp.StatusCode, Body: text}
	}
}

// serverMessage pulls the human-readable message or messages field out of an
// error body, falling back to the raw text.
func serverMessage(body string) string {
	var payload struct {
		Message  string   `json:"message"`
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil {
		if len(payload.Messages) > 0 {
			return strings.Join(payload.Messages, "; ")
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return body
}
