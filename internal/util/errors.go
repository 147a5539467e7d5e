package util

import (
	"errors"
	"net/http"
	"strings"
)

type ErrorKind string

const (
	InvalidInput          ErrorKind = "invalid_input"
	NotFound              ErrorKind = "not_found"
	RateLimited           ErrorKind = "rate_limited"
	UpstreamUnavailable   ErrorKind = "upstream_unavailable"
	MissingToken          ErrorKind = "missing_token"
	InvalidOrExpiredToken ErrorKind = "invalid_or_expired_token"
	ForbiddenSource       ErrorKind = "forbidden_source"
	UpstreamFailure       ErrorKind = "upstream_failure"
	Unexpected            ErrorKind = "unexpected"
)

// AppError is what a handler reports to the client. Title and Message are
// safe for direct display.
type AppError struct {
	Kind    ErrorKind
	Status  int
	Title   string
	Message string
}

func (e *AppError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func NewInvalidInput(message string) *AppError {
	if message == "" {
		message = "Please provide a valid Instagram URL"
	}
	return &AppError{InvalidInput, http.StatusBadRequest, "Invalid URL", message}
}

var (
	ErrMissingToken = &AppError{MissingToken, http.StatusBadRequest,
		"Missing token", "Download token is required"}
	ErrInvalidToken = &AppError{InvalidOrExpiredToken, http.StatusNotFound,
		"Invalid token", "Download token is invalid or expired"}
	ErrForbiddenSource = &AppError{ForbiddenSource, http.StatusForbidden,
		"Invalid source", "Download URL validation failed"}
	ErrVideoUnavailable = &AppError{NotFound, http.StatusNotFound,
		"Video not found or unavailable",
		"Unable to fetch video from the provided URL. The video might be private or the URL is invalid."}
)

func NewUpstreamFailure(status int) *AppError {
	return &AppError{UpstreamFailure, status, "Download failed", "Unable to download video from the source"}
}

func NewDownloadError() *AppError {
	return &AppError{Unexpected, http.StatusInternalServerError,
		"Download failed", "An error occurred while downloading the video"}
}

type httpStatusError interface {
	HTTPStatus() int
}

type codedError interface {
	ErrorCode() string
}

// ClassifyResolveError maps a resolver failure onto the client-facing
// taxonomy. Typed errors are matched on their status and code only; the
// message text is searched just for untyped errors.
func ClassifyResolveError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	status := 0
	msg := ""
	var se httpStatusError
	if errors.As(err, &se) {
		status = se.HTTPStatus()
		var ce codedError
		if errors.As(err, &ce) {
			msg = strings.ToLower(ce.ErrorCode())
		}
	} else if err != nil {
		msg = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		strings.Contains(msg, "401") || strings.Contains(msg, "login") || strings.Contains(msg, "auth"):
		return &AppError{UpstreamUnavailable, http.StatusServiceUnavailable,
			"Service temporarily unavailable",
			"Instagram is currently blocking video downloads. Please try again later or use a different video URL."}
	case status == http.StatusNotFound || strings.Contains(msg, "404") ||
		strings.Contains(msg, "not found") || strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "private") || strings.Contains(msg, "empty"):
		return &AppError{NotFound, http.StatusNotFound,
			"Video not found",
			"The video could not be found. It may be private, deleted, or the URL may be incorrect."}
	case status == http.StatusTooManyRequests || strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limited") ||
		strings.Contains(msg, "rate_exceeded"):
		return &AppError{RateLimited, http.StatusTooManyRequests,
			"Too many requests",
			"Instagram rate limit reached. Please wait a few minutes and try again."}
	}

	return &AppError{Unexpected, http.StatusInternalServerError,
		"Failed to fetch video",
		"Unable to retrieve video information. The video may be private or Instagram's service is temporarily unavailable. Please try again."}
}
