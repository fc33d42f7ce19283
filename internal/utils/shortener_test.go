package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testShortener(t *testing.T, h http.HandlerFunc) *Shortener {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s := NewShortener(strings.TrimPrefix(srv.URL, "http://"), "secret", time.Second, nil)
	s.Scheme = "http"
	return s
}

func TestShortener_ReturnsShortURL(t *testing.T) {
	s := testShortener(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api" || q.Get("api") != "secret" || q.Get("format") != "text" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if q.Get("url") != "https://telegram.dog/bot?start=token_x" {
			http.Error(w, "bad url", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("https://sho.rt/abc\n"))
	})
	if got := s.Shorten(context.Background(), "https://telegram.dog/bot?start=token_x"); got != "https://sho.rt/abc" {
		t.Errorf("got %q", got)
	}
}

func TestShortener_FallsBackToOriginal(t *testing.T) {
	long := "https://telegram.dog/bot?start=token_y"
	cases := map[string]http.HandlerFunc{
		"статус 403": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) },
		"не ссылка":  func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("error: invalid api key")) },
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			s := testShortener(t, h)
			if got := s.Shorten(context.Background(), long); got != long {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestShortener_RetriesServerErrors(t *testing.T) {
	var calls int
	s := testShortener(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("https://sho.rt/ok"))
	})
	if got := s.Shorten(context.Background(), "https://x"); got != "https://sho.rt/ok" {
		t.Errorf("got %q", got)
	}
	if calls != 2 {
		t.Errorf("запросов %d", calls)
	}
}

func TestShortener_NotConfigured(t *testing.T) {
	s := NewShortener("", "", time.Second, nil)
	if got := s.Shorten(context.Background(), "https://x"); got != "https://x" {
		t.Errorf("got %q", got)
	}
}
