package bus

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SecretResolver looks up the shared HMAC secret for a sending repo.
// Returns false if the repo has no registered secret.
type SecretResolver interface {
	Secret(repo string) ([]byte, bool)
}

// MapSecretResolver is a SecretResolver backed by a static map, suitable
// for secrets loaded from configuration at startup.
type MapSecretResolver map[string][]byte

func (m MapSecretResolver) Secret(repo string) ([]byte, bool) {
	s, ok := m[repo]
	return s, ok
}

// sign computes the hex-encoded HMAC-SHA256 of form using secret.
func sign(secret, form []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(form)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify checks that signature matches the HMAC of form under secret,
// using constant-time comparison.
func verify(secret, form []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(form)
	return hmac.Equal(mac.Sum(nil), want)
}
