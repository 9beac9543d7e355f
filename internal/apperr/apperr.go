// Package apperr defines the error taxonomy shared by every component and its
// mapping to safe, caller-facing responses.
package apperr

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Taxonomy errors. Components wrap the underlying cause with one of these.
var (
	// ErrUpstreamAuth is returned when the provider rejects the service's own client identity.
	ErrUpstreamAuth = errors.New("upstream rejected client credentials")

	// ErrInvalidGrant is returned when an authorization code or refresh token is expired,
	// already used, or malformed.
	ErrInvalidGrant = errors.New("invalid authorization grant")

	// ErrUpstreamTimeout is returned when the provider or catalog does not answer in time.
	ErrUpstreamTimeout = errors.New("upstream timed out")

	// ErrUpstream covers any other provider failure.
	ErrUpstream = errors.New("upstream request failed")

	// ErrNotFound is returned when no linkage or account matches.
	ErrNotFound = errors.New("not found")

	// ErrPersistence is returned when a store write fails.
	ErrPersistence = errors.New("persistence failed")

	// ErrPayloadTooLarge is returned when an input exceeds what the classifier accepts.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrInvalidInput is returned for malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized is returned when a session is required but missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict is returned when a provider identity is already linked
	// elsewhere, or a username or email is already in use.
	ErrConflict = errors.New("conflict")
)

// Response is the safe view of an error that may cross the HTTP boundary.
type Response struct {
	Status  int    `json:"-"`
	Tag     string `json:"error"`
	Message string `json:"message"`
}

type mapping struct {
	err     error
	status  int
	tag     string
	message string
}

// Order matters: the first match wins.
var mappings = []mapping{
	{ErrUpstreamTimeout, http.StatusGatewayTimeout, "upstream_timeout", "The music provider took too long to respond."},
	{ErrUpstreamAuth, http.StatusBadGateway, "upstream_auth", "The music provider rejected this service."},
	{ErrInvalidGrant, http.StatusBadRequest, "invalid_grant", "Authorization expired or was already used. Please sign in again."},
	{ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large", "The uploaded file is too large."},
	{ErrInvalidInput, http.StatusBadRequest, "invalid_input", "The request is invalid."},
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "Not authenticated."},
	{ErrConflict, http.StatusConflict, "conflict", "This account or provider identity is already in use."},
	{ErrNotFound, http.StatusNotFound, "not_found", "Not found."},
	{ErrPersistence, http.StatusInternalServerError, "persistence", "Could not save your data."},
	{ErrUpstream, http.StatusBadGateway, "upstream", "The music provider is unavailable."},
}

// Public maps err to a response that is safe to show to the end caller.
// Unknown errors become a generic internal error.
func Public(err error) Response {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return Response{Status: m.status, Tag: m.tag, Message: m.message}
		}
	}
	return Response{
		Status:  http.StatusInternalServerError,
		Tag:     "internal",
		Message: "Internal error.",
	}
}

// Tag returns the taxonomy tag for err.
func Tag(err error) string {
	return Public(err).Tag
}

// IsTimeout reports whether err is a context deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
