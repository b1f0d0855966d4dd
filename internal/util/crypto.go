package util

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const PasswordCost = 12

func HmacSHA512(secret string, data []byte) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// CanonicalJSON re-encodes body with object keys sorted at every level and no
// HTML escaping. Numbers print the way JavaScript prints them (1.50 becomes 1.5).
func CanonicalJSON(body []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// MaskRef keeps the first characters of a provider reference for logs.
func MaskRef(ref string) string {
	if len(ref) <= 8 {
		return strings.Repeat("*", len(ref))
	}
	return ref[:8] + "****"
}
