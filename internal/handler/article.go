package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/obcare/backend/internal/middleware"
	"github.com/obcare/backend/internal/model"
	"github.com/obcare/backend/internal/repository"
)

// ArticleHandler — просветительские материалы клиники. Пациентки видят
// только опубликованное, персонал работает и с черновиками.
type ArticleHandler struct {
	articleRepo *repository.ArticleRepository
}

func NewArticleHandler(articleRepo *repository.ArticleRepository) *ArticleHandler {
	return &ArticleHandler{articleRepo: articleRepo}
}

func (h *ArticleHandler) ListPublished(w http.ResponseWriter, r *http.Request) {
	articles, err := h.articleRepo.ListPublished(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeRepoError(w, err, "article.ListPublished")
		return
	}
	writeJSON(w, http.StatusOK, articles)
}

func (h *ArticleHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	articles, err := h.articleRepo.ListAll(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeRepoError(w, err, "article.ListAll")
		return
	}
	writeJSON(w, http.StatusOK, articles)
}

func (h *ArticleHandler) Get(w http.ResponseWriter, r *http.Request) {
	article, err := h.articleRepo.GetByID(r.Context(), chi.URLParam(r, "articleID"))
	if err != nil {
		writeRepoError(w, err, "article.Get")
		return
	}
	role := model.Role(middleware.GetUserRole(r.Context()))
	if !article.Published() && !role.IsStaff() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, article)
}

type articleRequest struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	CoverURL string `json:"cover_url"`
}

func (h *ArticleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req articleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Title == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "title and body are required")
		return
	}
	article := &model.Article{
		AuthorID: middleware.GetUserID(r.Context()),
		Title:    req.Title,
		Body:     req.Body,
		CoverURL: req.CoverURL,
	}
	if err := h.articleRepo.Create(r.Context(), article); err != nil {
		writeRepoError(w, err, "article.Create")
		return
	}
	writeJSON(w, http.StatusCreated, article)
}

func (h *ArticleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req articleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Title == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "title and body are required")
		return
	}
	articleID := chi.URLParam(r, "articleID")
	if err := h.articleRepo.Update(r.Context(), articleID, req.Title, req.Body, req.CoverURL); err != nil {
		writeRepoError(w, err, "article.Update")
		return
	}
	article, err := h.articleRepo.GetByID(r.Context(), articleID)
	if err != nil {
		writeRepoError(w, err, "article.Update reload")
		return
	}
	writeJSON(w, http.StatusOK, article)
}

type setPublishedRequest struct {
	Published bool `json:"published"`
}

// SetPublished публикует или прячет статью. Дата публикации сохраняется
// при повторной публикации той же статьи.
func (h *ArticleHandler) SetPublished(w http.ResponseWriter, r *http.Request) {
	var req setPublishedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	articleID := chi.URLParam(r, "articleID")
	if err := h.articleRepo.SetPublished(r.Context(), articleID, req.Published); err != nil {
		writeRepoError(w, err, "article.SetPublished")
		return
	}
	article, err := h.articleRepo.GetByID(r.Context(), articleID)
	if err != nil {
		writeRepoError(w, err, "article.SetPublished reload")
		return
	}
	writeJSON(w, http.StatusOK, article)
}

func (h *ArticleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.articleRepo.Delete(r.Context(), chi.URLParam(r, "articleID")); err != nil {
		writeRepoError(w, err, "article.Delete")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
