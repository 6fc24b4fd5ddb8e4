package handler

import (
	"net/http"
	"time"

	"github.com/obcare/backend/internal/middleware"
	"github.com/obcare/backend/internal/model"
	"github.com/obcare/backend/internal/repository"
)

// InsightHandler — справочные материалы по неделям беременности.
type InsightHandler struct {
	insightRepo *repository.InsightRepository
	userRepo    *repository.UserRepository
}

func NewInsightHandler(insightRepo *repository.InsightRepository, userRepo *repository.UserRepository) *InsightHandler {
	return &InsightHandler{insightRepo: insightRepo, userRepo: userRepo}
}

type currentInsightResponse struct {
	Week    int                  `json:"week"`
	Insight *model.HealthInsight `json:"insight,omitempty"`
}

// Current подбирает материал под текущий срок пациентки. Без даты последней
// менструации отдаёт week=0 без материала; если точной недели в справочнике
// нет, берётся ближайшая предыдущая.
func (h *InsightHandler) Current(w http.ResponseWriter, r *http.Request) {
	u, err := h.userRepo.GetByID(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeRepoError(w, err, "insight.Current user")
		return
	}
	week := u.GestationalWeek(time.Now().UTC())
	if week == 0 {
		writeJSON(w, http.StatusOK, currentInsightResponse{Week: 0})
		return
	}
	insight, err := h.insightRepo.ByWeek(r.Context(), week)
	if err != nil {
		if isNotFound(err) {
			writeJSON(w, http.StatusOK, currentInsightResponse{Week: week})
			return
		}
		writeRepoError(w, err, "insight.Current")
		return
	}
	writeJSON(w, http.StatusOK, currentInsightResponse{Week: week, Insight: insight})
}

// ByWeek — материал для произвольной недели (листание вперёд-назад).
func (h *InsightHandler) ByWeek(w http.ResponseWriter, r *http.Request) {
	week := queryInt(r, "week", 0)
	if week < 1 || week > 42 {
		writeError(w, http.StatusBadRequest, "week must be 1..42")
		return
	}
	insight, err := h.insightRepo.ByWeek(r.Context(), week)
	if err != nil {
		writeRepoError(w, err, "insight.ByWeek")
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

func (h *InsightHandler) List(w http.ResponseWriter, r *http.Request) {
	insights, err := h.insightRepo.List(r.Context())
	if err != nil {
		writeRepoError(w, err, "insight.List")
		return
	}
	writeJSON(w, http.StatusOK, insights)
}
