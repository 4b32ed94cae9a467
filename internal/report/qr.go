package report

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// HashToQR creates a QR code PNG encoding the provided hex digest.
func HashToQR(hash string, size int) ([]byte, error) {
	normalized := sanitizeHash(hash)
	if normalized == "" {
		return nil, fmt.Errorf("hash is empty")
	}
	if size <= 0 {
		size = 128
	}
	return qrcode.Encode(normalized, qrcode.Medium, size)
}

func sanitizeHash(hash string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(hash)) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'F':
			b.WriteRune(r)
		}
	}
	return b.String()
}
