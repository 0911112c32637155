// Package source holds helpers shared by the court portal adapters:
// CAPTCHA/auth-wall detection and diário HTML parsing.
package source

import (
	"bytes"
	"net/http"
)

// Challenge phrases seen on blocked court portal responses. Matching is
// case-insensitive on the raw body.
var blockSignals = [][]byte{
	[]byte("captcha"),
	[]byte("g-recaptcha"),
	[]byte("hcaptcha"),
	[]byte("cf-challenge"),
	[]byte("acesso bloqueado"),
	[]byte("verifique que"),
	[]byte("sessão expirada"),
}

// Blocked reports whether a portal response is a CAPTCHA or auth wall
// rather than content. Adapters surface this as a blocked run, never as
// a generic error.
func Blocked(statusCode int, body []byte) bool {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, sig := range blockSignals {
		if bytes.Contains(lower, sig) {
			return true
		}
	}
	return false
}
