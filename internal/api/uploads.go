package api

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"marketchat/internal/metrics"
	"marketchat/internal/middleware"
	"marketchat/internal/types"
)

// PrepareUpload serves POST /api/uploads. The response carries a signed
// single use PUT url and the public url the message will reference.
func (h *Handler) PrepareUpload(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())

	var req types.PrepareUploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		h.Error(w, r, badRequest("invalid request body"))
		return
	}
	req.Filename = path.Base(strings.TrimSpace(req.Filename))
	if req.Filename == "" || req.Filename == "." || req.Filename == "/" {
		h.Error(w, r, badRequest("filename is required"))
		return
	}

	resp, err := h.uploads.Prepare(user.ID.String(), req)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	metrics.UploadsPrepared.Inc()
	h.JSON(w, http.StatusOK, resp)
}

// PutUpload serves PUT /uploads/{key}. The signature in the query string
// is the only credential.
func (h *Handler) PutUpload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	q := r.URL.Query()
	body := http.MaxBytesReader(w, r.Body, h.uploads.MaxSize()+1)

	n, err := h.uploads.Write(key, q.Get("expires"), q.Get("sig"), body)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	metrics.UploadBytes.Observe(float64(n))
	w.WriteHeader(http.StatusNoContent)
}

// File serves GET /files/{key}.
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	f, err := h.uploads.Open(key)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.Error(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, key, info.ModTime(), f)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
