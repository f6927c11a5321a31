package chain

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/roderickjackson-bradley/elmgives-api/canonjson"
)

// HashTypeSHA256 is the only digest type the pipeline produces.
const HashTypeSHA256 = "sha256"

// HashValue returns the canonical hex-encoded SHA-256 hash of v.
// v is serialized with canonjson so the digest is stable across
// key orderings.
func HashValue(v interface{}) (string, error) {
	b, err := canonjson.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
