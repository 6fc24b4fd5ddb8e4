package middleware

import (
	"context"
	"net/http"

	"github.com/obcare/backend/internal/model"
)

// UserSource отдаёт пользователя по id. Реализуется repository.UserRepository.
type UserSource interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// RequireUser загружает пользователя после AuthServiceValidate, отклоняет
// отключённые учётки и кладёт роль в контекст. Всё, что дальше по цепочке,
// может полагаться на GetUserRole.
func RequireUser(users UserSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r.Context())
			if userID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			u, err := users.GetByID(r.Context(), userID)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if u.DisabledAt != nil {
				http.Error(w, `{"error":"account disabled"}`, http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), UserRoleKey, string(u.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStaff пропускает только врачей и секретарей.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := model.Role(GetUserRole(r.Context()))
		if !role.IsStaff() {
			http.Error(w, `{"error":"staff only"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
