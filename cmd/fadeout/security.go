package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"fadeout/internal/errors"
)

// verifySignature reads the request body and checks it against an
// HMAC-SHA256 signature of the form "sha256=<hex>". The body is restored on
// the request so handlers can read it again.
func verifySignature(r *http.Request, secretKey string, signatureHeaderName string) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read request body")
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secretKey == "" {
		if os.Getenv("FADEOUT_ENV") == "production" {
			return nil, errors.NewAuthError("webhook secret is required in production mode")
		}
		return body, nil
	}

	signatureHeader := r.Header.Get(signatureHeaderName)
	if signatureHeader == "" {
		return nil, errors.NewAuthError(fmt.Sprintf("missing signature header: %s", signatureHeaderName))
	}

	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return nil, errors.NewAuthError(fmt.Sprintf("invalid signature format in header %s", signatureHeaderName))
	}

	if !hmac.Equal([]byte(signBody(secretKey, body)), []byte(strings.ToLower(parts[1]))) {
		return nil, errors.NewAuthError("signature mismatch")
	}

	return body, nil
}

func signBody(secretKey string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
