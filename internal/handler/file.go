package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/obcare/backend/internal/fileserver"
)

// FileHandler — вложения чата: снимки УЗИ, результаты анализов, фото.
type FileHandler struct {
	files *fileserver.Service
}

func NewFileHandler(files *fileserver.Service) *FileHandler {
	return &FileHandler{files: files}
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	h.files.Upload(w, r)
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.files.Serve(w, r, chi.URLParam(r, "filename"))
}
