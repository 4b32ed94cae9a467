package common

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// Hasher is an io.Writer that keeps a running SHA-256 and byte count.
type Hasher struct {
	h hash.Hash
	n int64
}

func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.n += int64(n)
	return n, err
}

func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

func (h *Hasher) Size() int64 {
	return h.n
}

func Sha256OfFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := NewHasher()
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, err
	}
	return h.Sum(), h.Size(), nil
}
