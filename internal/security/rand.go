package security

import (
	"crypto/rand"
	"encoding/base64"
	"io"
)

// RandomBytes генерирует криптостойкие байты
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := io.ReadFull(rand.Reader, b)
	return b, err
}

// RandomStringURLSafe генерирует base64url; используется для пароля сидового админа
func RandomStringURLSafe(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
