package delta

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

type Signer struct {
	apiKey string
	secret []byte
}

func NewSigner(apiKey, apiSecret string) (*Signer, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, errors.New("api key is required")
	}
	secret := strings.TrimSpace(apiSecret)
	if secret == "" {
		return nil, errors.New("api secret is required")
	}
	return &Signer{apiKey: key, secret: []byte(secret)}, nil
}

func (s *Signer) APIKey() string {
	return s.apiKey
}

// Sign returns the lowercase hex HMAC-SHA256 of Prehash(method, ts, path, payload).
func (s *Signer) Sign(method string, ts int64, path, payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(Prehash(method, ts, path, payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Prehash concatenates the request parts with no separators. payload is either
// "?"+query for GET requests or the exact JSON body that will be transmitted.
func Prehash(method string, ts int64, path, payload string) string {
	var b strings.Builder
	b.Grow(len(method) + 10 + len(path) + len(payload))
	b.WriteString(method)
	b.WriteString(strconv.FormatInt(ts, 10))
	b.WriteString(path)
	b.WriteString(payload)
	return b.String()
}
