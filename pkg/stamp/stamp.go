// Package stamp records file modification stamps and content hashes used to
// decide whether a file changed between builds.
package stamp

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Stamp is the observed state of one file.
type Stamp struct {
	ModTime float64 // seconds since the epoch, sub-second precision
	Size    int64
	Hash    string // xxHash64 hex, empty when not computed
}

// Seconds converts a time to the float stamp stored in the graph database.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Stat returns the mtime and size of path without hashing.
func Stat(path string) (Stamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{ModTime: Seconds(info.ModTime()), Size: info.Size()}, nil
}

// Of returns the full stamp of path, content hash included.
func Of(path string) (Stamp, error) {
	s, err := Stat(path)
	if err != nil {
		return Stamp{}, err
	}
	s.Hash, err = HashFile(path)
	if err != nil {
		return Stamp{}, err
	}
	return s, nil
}

// HashFile computes xxHash64 of file contents, returns hex string.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Changed reports whether the file at path differs from a recorded stamp and
// hash. Matching mtimes short-circuit; otherwise the content decides, so a
// touched but identical file is not a change. The current stamp is returned
// so callers can refresh the record.
func Changed(path string, recorded float64, recordedHash string) (bool, Stamp, error) {
	cur, err := Stat(path)
	if err != nil {
		return true, Stamp{}, err
	}
	if cur.ModTime == recorded {
		cur.Hash = recordedHash
		return false, cur, nil
	}
	cur.Hash, err = HashFile(path)
	if err != nil {
		return true, cur, err
	}
	if recordedHash == "" || cur.Hash != recordedHash {
		return true, cur, nil
	}
	return false, cur, nil
}
