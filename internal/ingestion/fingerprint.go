package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Fingerprint folds every regular file in folder, in sorted filename
// order, into one digest over name, modification time, and full contents.
// Any change to the file set or to any byte of any file changes the digest.
func Fingerprint(folder string) (string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", fmt.Errorf("failed to read corpus folder: %w", err)
	}

	h := sha256.New()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		io.WriteString(h, entry.Name())
		io.WriteString(h, strconv.FormatInt(info.ModTime().UnixNano(), 10))

		f, err := os.Open(filepath.Join(folder, entry.Name()))
		if err != nil {
			// Unreadable files are skipped here and by the loader, so
			// the digest and the corpus stay consistent.
			continue
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", entry.Name(), err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
