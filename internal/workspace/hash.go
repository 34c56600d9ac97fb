package workspace

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
)

// Hash is a hex-encoded git object id.
type Hash string

func NewHash(bytes []byte) (Hash, error) {
	if len(bytes) != 20 {
		return "", fmt.Errorf("invalid hash length: %d bytes", len(bytes))
	}
	return Hash(hex.EncodeToString(bytes)), nil
}

// ParseHash validates a 40 character hex object id.
func ParseHash(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return NewHash(raw)
}

// HashBlob returns the id git would assign to content stored as a blob.
func HashBlob(content []byte) Hash {
	header := fmt.Sprintf("blob %d\x00", len(content))
	h := sha1.New()
	h.Write([]byte(header))
	h.Write(content)
	hash, _ := NewHash(h.Sum(nil))
	return hash
}

func HashFile(path string) (Hash, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return HashBlob(content), nil
}
