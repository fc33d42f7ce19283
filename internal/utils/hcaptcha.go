package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type HCaptcha struct {
	SiteKey   string
	Secret    string
	VerifyURL string
	Client    *http.Client
}

const defaultHCaptchaVerifyURL = "https://api.hcaptcha.com/siteverify"

func NewHCaptcha(siteKey, secret, verifyURL string) *HCaptcha {
	if verifyURL == "" {
		verifyURL = defaultHCaptchaVerifyURL
	}
	return &HCaptcha{
		SiteKey:   siteKey,
		Secret:    secret,
		VerifyURL: verifyURL,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HCaptcha) Enabled() bool {
	return h != nil && h.SiteKey != "" && h.Secret != ""
}

// Verify проверяет h-captcha-response через siteverify.
func (h *HCaptcha) Verify(ctx context.Context, response, remoteIP string) (bool, error) {
	if response == "" {
		return false, nil
	}
	form := url.Values{"secret": {h.Secret}, "response": {response}}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := h.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("hcaptcha request: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("hcaptcha decode: %w", err)
	}
	return out.Success, nil
}
