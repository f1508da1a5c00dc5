// Package auth issues and validates the short-lived tokens browser clients
// present when opening the media websocket.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired")
	ErrTokenClient = errors.New("client id mismatch")
)

// GenerateClientToken builds a token for one client and expiry.
// Format: base64url(client_id + "." + exp_unix + "." + hex(hmac_sha256(secret, client_id+"."+exp)))
func GenerateClientToken(secret, clientID string, expUnix int64) string {
	msg := clientID + "." + strconv.FormatInt(expUnix, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	raw := msg + "." + hex.EncodeToString(mac.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ValidateClientToken checks the signature and expiry and returns the
// embedded client id. expectClientID may be empty to accept any client.
func ValidateClientToken(secret, token, expectClientID string, now time.Time, skewSeconds int) (string, int64, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	parts := strings.Split(string(b), ".")
	if len(parts) != 3 {
		return "", 0, ErrTokenFormat
	}
	cid, expStr, sigHex := parts[0], parts[1], parts[2]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	if expectClientID != "" && cid != expectClientID {
		return "", 0, ErrTokenClient
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(cid + "." + expStr))
	want := mac.Sum(nil)
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	if !hmac.Equal(want, got) {
		return "", 0, ErrTokenSig
	}
	if now.Unix() > exp+int64(skewSeconds) {
		return "", 0, ErrTokenExp
	}
	return cid, exp, nil
}
