package iiif

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/greut/iiifcache/operation"
	"github.com/greut/iiifcache/processor"
	"github.com/greut/iiifcache/source"
)

// HTTPError represents a HTTP error to be shown to the user.
type HTTPError struct {
	StatusCode int
	Message    string
}

// Error formats the HTTPError message.
func (e HTTPError) Error() string {
	return fmt.Sprintf("%d (%s) %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// ParseError is returned for a malformed IIIF URI segment.
type ParseError struct {
	Version   int
	Component string
	Value     string
	Reason    string
}

func (e ParseError) Error() string {
	message := fmt.Sprintf("IIIF %s `%s` argument is not recognized: %#v", versionLabel(e.Version), e.Component, e.Value)
	if e.Reason != "" {
		message += " (" + e.Reason + ")"
	}
	return message
}

func versionLabel(version int) string {
	switch version {
	case 1:
		return "1.1"
	case 3:
		return "3.0"
	default:
		return "2.1"
	}
}

// toHTTPError classifies any error of the pipeline.
func toHTTPError(err error) HTTPError {
	var (
		httpErr     HTTPError
		parseErr    ParseError
		validErr    operation.ValidationError
		formatErr   processor.UnsupportedFormatError
		unsupported processor.UnsupportedError
		notFound    source.NotFoundError
		denied      source.AccessDeniedError
	)

	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case errors.As(err, &parseErr):
		return HTTPError{http.StatusBadRequest, parseErr.Error()}
	case errors.As(err, &validErr):
		return HTTPError{http.StatusBadRequest, validErr.Error()}
	case errors.As(err, &formatErr):
		return HTTPError{http.StatusNotImplemented, formatErr.Error()}
	case errors.As(err, &unsupported):
		return HTTPError{http.StatusNotImplemented, unsupported.Error()}
	case errors.As(err, &notFound):
		return HTTPError{http.StatusNotFound, notFound.Error()}
	case errors.As(err, &denied):
		return HTTPError{http.StatusForbidden, denied.Error()}
	}
	return HTTPError{http.StatusInternalServerError, err.Error()}
}
