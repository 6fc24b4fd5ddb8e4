package middleware

import (
	"net"
	"net/http"
	"os"
	"strings"
)

// InternalOnly пропускает только запросы из приватных сетей либо с
// заголовком X-Internal-Secret (значение из env INTERNAL_VALIDATE_SECRET).
// Используется для эндпоинтов, которые дергает сервис авторизации.
func InternalOnly(next http.Handler) http.Handler {
	secret := os.Getenv("INTERNAL_VALIDATE_SECRET")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && r.Header.Get("X-Internal-Secret") == secret {
			next.ServeHTTP(w, r)
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(strings.TrimSpace(host))
		if ip == nil || !(ip.IsLoopback() || ip.IsPrivate()) {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
