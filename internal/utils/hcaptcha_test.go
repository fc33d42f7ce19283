package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHCaptcha_Verify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("secret") != "s3cret" {
			_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-secret"]}`))
			return
		}
		ok := r.Form.Get("response") == "good"
		if ok {
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	h := NewHCaptcha("site", "s3cret", srv.URL)
	if !h.Enabled() {
		t.Fatal("ключи заданы")
	}
	ok, err := h.Verify(context.Background(), "good", "1.2.3.4")
	if err != nil || !ok {
		t.Errorf("good: %v %v", ok, err)
	}
	ok, err = h.Verify(context.Background(), "bad", "")
	if err != nil || ok {
		t.Errorf("bad: %v %v", ok, err)
	}
	if ok, _ := h.Verify(context.Background(), "", ""); ok {
		t.Error("пустой ответ не проходит")
	}
	if NewHCaptcha("", "", "").Enabled() {
		t.Error("без ключей капча выключена")
	}
}
