package download

import (
	"bytes"
	"crypto/sha256"
	"io"
	"os"
)

// BodyChanged reports whether body differs from the file at destPath,
// by content hash. It is the fallback change signal for servers that
// never send Last-Modified; when a server timestamp was obtained the
// timestamp is authoritative and this must not be called.
func BodyChanged(destPath string, body []byte) (bool, error) {
	f, err := os.Open(destPath)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	existing := sha256.New()
	if _, err := io.Copy(existing, f); err != nil {
		return false, err
	}

	incoming := sha256.Sum256(body)
	return !bytes.Equal(existing.Sum(nil), incoming[:]), nil
}
