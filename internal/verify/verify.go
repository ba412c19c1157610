// Package verify compares downloaded packages against published checksums.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// FileSHA256 returns the hex-encoded SHA-256 digest of a file.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File reports whether the package at pkgPath matches the digest published in
// the checksum file. The digest is the first whitespace-delimited token of the
// checksum file and is compared case-insensitively. Any read failure counts
// as a mismatch.
func File(pkgPath, checksumPath string) bool {
	digest, err := FileSHA256(pkgPath)
	if err != nil {
		return false
	}
	raw, err := os.ReadFile(checksumPath)
	if err != nil {
		return false
	}
	want := strings.Fields(string(raw))
	if len(want) == 0 {
		return false
	}
	return strings.EqualFold(digest, want[0])
}
