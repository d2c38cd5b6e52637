package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func request(t *testing.T, g *Guard, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/grid", nil)
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	g.Wrap(inner).ServeHTTP(rr, req)
	return rr
}

func TestWrap_NoKeyConfigured(t *testing.T) {
	g := New("", "x-api-key")
	if !g.Disabled() {
		t.Error("Disabled: got false, want true")
	}
	if rr := request(t, g, nil); rr.Code != http.StatusNoContent {
		t.Errorf("status: got %d, want 204", rr.Code)
	}
}

func TestWrap_KeyChecks(t *testing.T) {
	g := New("secret", "x-api-key")

	tests := []struct {
		name   string
		mutate func(*http.Request)
		want   int
	}{
		{"no credentials", nil, http.StatusUnauthorized},
		{"bearer ok", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, http.StatusNoContent},
		{"bearer wrong", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"header ok", func(r *http.Request) { r.Header.Set("x-api-key", "secret") }, http.StatusNoContent},
		{"header wrong", func(r *http.Request) { r.Header.Set("x-api-key", "nope") }, http.StatusUnauthorized},
		{"wrong header name", func(r *http.Request) { r.Header.Set("x-token", "secret") }, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := request(t, g, tc.mutate)
			if rr.Code != tc.want {
				t.Errorf("status: got %d, want %d", rr.Code, tc.want)
			}
			if tc.want == http.StatusUnauthorized && !strings.Contains(rr.Body.String(), "unauthorized") {
				t.Errorf("body: got %q, want unauthorized error", rr.Body.String())
			}
		})
	}
}

func TestWrap_CustomHeader(t *testing.T) {
	g := New("secret", "x-sheet-key")
	rr := request(t, g, func(r *http.Request) { r.Header.Set("x-sheet-key", "secret") })
	if rr.Code != http.StatusNoContent {
		t.Errorf("status: got %d, want 204", rr.Code)
	}
}
