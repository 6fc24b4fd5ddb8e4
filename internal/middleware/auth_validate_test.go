package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeAuth(t *testing.T, wantSession string, capture *map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if capture != nil {
			*capture = body
		}
		if body["session_id"] != wantSession {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"user_id": "user-1"})
	}))
}

func TestAuthServiceValidate_SetsUserID(t *testing.T) {
	auth := newFakeAuth(t, "sess-ok", nil)
	defer auth.Close()

	var gotUserID string
	h := AuthServiceValidate(auth.URL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("X-Session-Id", "sess-ok")
	req.Header.Set("X-Timestamp", "1700000000")
	req.Header.Set("X-Signature", "sig")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", gotUserID)
}

func TestAuthServiceValidate_QueryParamsFallback(t *testing.T) {
	// WebSocket не может передать заголовки при upgrade из браузера
	auth := newFakeAuth(t, "sess-ok", nil)
	defer auth.Close()

	h := AuthServiceValidate(auth.URL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/ws/feed?session_id=sess-ok&timestamp=1700000000&signature=sig", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthServiceValidate_MissingHeaders(t *testing.T) {
	h := AuthServiceValidate("http://unused", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be called")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthServiceValidate_RejectedSession(t *testing.T) {
	auth := newFakeAuth(t, "sess-ok", nil)
	defer auth.Close()

	h := AuthServiceValidate(auth.URL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be called")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("X-Session-Id", "sess-bad")
	req.Header.Set("X-Timestamp", "1700000000")
	req.Header.Set("X-Signature", "sig")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthServiceValidate_BodyForwardedAndRestored(t *testing.T) {
	var captured map[string]string
	auth := newFakeAuth(t, "sess-ok", &captured)
	defer auth.Close()

	var seenBody string
	h := AuthServiceValidate(auth.URL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seenBody = string(b)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"body":"hi"}`))
	req.Header.Set("X-Session-Id", "sess-ok")
	req.Header.Set("X-Timestamp", "1700000000")
	req.Header.Set("X-Signature", "sig")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, `{"body":"hi"}`, captured["body"], "тело уходит на подпись")
	assert.Equal(t, `{"body":"hi"}`, seenBody, "и остаётся читаемым для handler")
	assert.Equal(t, "/api/messages", captured["path"])
}

func TestAuthServiceValidate_MultipartBodyEmptyForSignature(t *testing.T) {
	var captured map[string]string
	auth := newFakeAuth(t, "sess-ok", &captured)
	defer auth.Close()

	h := AuthServiceValidate(auth.URL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/api/files", strings.NewReader("binary-here"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	req.Header.Set("X-Session-Id", "sess-ok")
	req.Header.Set("X-Timestamp", "1700000000")
	req.Header.Set("X-Signature", "sig")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "", captured["body"])
}
