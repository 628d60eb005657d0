package pool

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/fairyhunter13/keypool/internal/domain"
)

// Fingerprint derives a stable one-way identifier for a credential. It is the
// only form of a credential that may appear in logs or persisted state.
func Fingerprint(c domain.Credential) string {
	sum := sha256.Sum256([]byte(c))
	return hex.EncodeToString(sum[:8])
}
