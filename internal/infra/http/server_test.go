package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestBearerAuth(t *testing.T) {
	s := NewServer(zerolog.Nop())
	s.Router.With(BearerAuth("secret")).Get("/private", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"без заголовка", "", http.StatusUnauthorized},
		{"неверный токен", "Bearer nope", http.StatusUnauthorized},
		{"другая схема", "Basic secret", http.StatusUnauthorized},
		{"верный токен", "Bearer secret", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			s.Router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("ожидали %d, получили %d", tc.want, rec.Code)
			}
		})
	}
}

func TestBearerAuthEmptyTokenDeniesAll(t *testing.T) {
	h := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("без токена доступ закрыт, получили %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := NewServer(zerolog.Nop())
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "{\"status\":\"ok\"}\n" {
		t.Fatalf("неверный ответ healthz: %d %q", rec.Code, rec.Body.String())
	}
}
