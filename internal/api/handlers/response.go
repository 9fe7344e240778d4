// Package handlers implements the HTTP handlers of the API server.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/narvanalabs/buildgraph/internal/api/errors"
	"github.com/narvanalabs/buildgraph/pkg/logger"
)

// maxBodyBytes bounds request bodies, including build logs in completion callbacks.
const maxBodyBytes = 8 << 20

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	apierrors.WriteJSON(w, status, data)
}

// WriteError maps err to a structured error response.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apierrors.WriteError(w, apierrors.FromError(err).WithRequestID(logger.RequestIDFromContext(r.Context())))
}

// WriteBadRequest writes a 400 Bad Request response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	apierrors.WriteError(w, apierrors.NewValidationError(message).WithRequestID(logger.RequestIDFromContext(r.Context())))
}

// decodeJSON decodes a client request, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return decode(w, r, v, true)
}

// decodeCallback decodes a payload sent by an external system. Fields added
// by newer versions of that system are ignored.
func decodeCallback(w http.ResponseWriter, r *http.Request, v any) error {
	return decode(w, r, v, false)
}

func decode(w http.ResponseWriter, r *http.Request, v any, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func intParam(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return v, nil
}
