package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// hash8 returns the first 8 hex characters of sha256(s), used to build the
// deterministic chat_id prefix (hash8(user) || "_" || client_chat_id).
func hash8(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}
