// Package api is the REST surface of the chat server.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"marketchat/internal/apierr"
	"marketchat/internal/logger"
	"marketchat/internal/repository"
	"marketchat/internal/storage"
	"marketchat/internal/types"
)

// Uploads is the object store behind attachments; *storage.Store.
type Uploads interface {
	Prepare(owner string, req types.PrepareUploadRequest) (types.PrepareUploadResponse, error)
	Write(key, expires, sig string, body io.Reader) (int64, error)
	Open(key string) (*os.File, error)
	MaxSize() int64
}

type Handler struct {
	messages repository.MessageRepo
	rooms    repository.RoomRepo
	uploads  Uploads
	log      *logger.Logger
}

func NewHandler(messages repository.MessageRepo, rooms repository.RoomRepo, uploads Uploads, log *logger.Logger) *Handler {
	return &Handler{
		messages: messages,
		rooms:    rooms,
		uploads:  uploads,
		log:      log.With("component", "API"),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends err as a JSON error body. Errors that carry no status are
// logged and reported as 500 without detail.
func (h *Handler) Error(w http.ResponseWriter, r *http.Request, err error) {
	err = classify(err)
	status := apierr.StatusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	h.JSON(w, status, types.ErrorResponse{Error: msg, Code: apierr.CodeOf(err)})
}

func classify(err error) error {
	var ae *apierr.Error
	switch {
	case errors.As(err, &ae):
		return err
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, storage.ErrBadKey),
		errors.Is(err, storage.ErrNotReserved), errors.Is(err, os.ErrNotExist):
		return apierr.New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, repository.ErrBadCursor):
		return apierr.New(http.StatusBadRequest, "bad_cursor", err)
	case errors.Is(err, storage.ErrBadSignature):
		return apierr.New(http.StatusForbidden, "bad_signature", err)
	case errors.Is(err, storage.ErrExpired):
		return apierr.New(http.StatusForbidden, "expired", err)
	case errors.Is(err, storage.ErrTooLarge):
		return apierr.New(http.StatusRequestEntityTooLarge, "too_large", err)
	}
	return err
}

func badRequest(msg string) error {
	return apierr.New(http.StatusBadRequest, "bad_request", errors.New(msg))
}
