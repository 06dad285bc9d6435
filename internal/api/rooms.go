package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"marketchat/internal/apierr"
	"marketchat/internal/middleware"
	"marketchat/internal/models"
	"marketchat/internal/repository"
	"marketchat/internal/types"
)

const dbTimeout = 5 * time.Second

var errNotParticipant = apierr.New(http.StatusForbidden, "forbidden", errors.New("not a participant of this room"))

func (h *Handler) authorizeRoom(ctx context.Context, roomID, userID string) error {
	ok, err := h.rooms.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotParticipant
	}
	return nil
}

// History serves GET /api/rooms/{roomID}/messages?cursor=&limit=. Pages
// are oldest first; nextCursor continues backwards in time.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())
	roomID := chi.URLParam(r, "roomID")

	limit := repository.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.Error(w, r, badRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, repository.MaxPageSize)
	}

	ctx, cancel := context.WithTimeout(r.Context(), dbTimeout)
	defer cancel()

	if err := h.authorizeRoom(ctx, roomID, user.ID.String()); err != nil {
		h.Error(w, r, err)
		return
	}
	page, err := h.messages.Page(ctx, roomID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	h.JSON(w, http.StatusOK, page)
}

// Room serves GET /api/rooms/{roomID}.
func (h *Handler) Room(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())
	roomID := chi.URLParam(r, "roomID")

	ctx, cancel := context.WithTimeout(r.Context(), dbTimeout)
	defer cancel()

	room, err := h.rooms.Get(ctx, roomID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	if !room.Has(user.ID.String()) {
		h.Error(w, r, errNotParticipant)
		return
	}
	h.JSON(w, http.StatusOK, types.RoomInfo{ID: room.ID, Participants: room.Participants})
}
