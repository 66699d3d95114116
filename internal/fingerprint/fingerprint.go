// Package fingerprint derives the dedup key of a URL.
package fingerprint

import (
	"crypto/sha1" //nolint:gosec // fingerprints are dedup keys, not security boundaries
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/purell"
	"github.com/zeebo/xxh3"
)

// Supported algorithms.
const (
	SHA1 = "sha1"
	XXH3 = "xxh3"
)

// Fingerprinter hashes URLs, optionally normalising them first so that
// trivially different spellings share a fingerprint.
type Fingerprinter struct {
	algorithm string
	normalize bool
}

// New returns a Fingerprinter for algorithm (sha1 or xxh3).
func New(algorithm string, normalize bool) (*Fingerprinter, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = SHA1
	}
	switch algorithm {
	case SHA1, XXH3:
	default:
		return nil, fmt.Errorf("unsupported fingerprint algorithm %q", algorithm)
	}
	return &Fingerprinter{algorithm: algorithm, normalize: normalize}, nil
}

// Fingerprint returns the hex digest of rawURL.
func (f *Fingerprinter) Fingerprint(rawURL string) string {
	if f.normalize {
		rawURL = Normalize(rawURL)
	}
	if f.algorithm == XXH3 {
		return fmt.Sprintf("%016x", xxh3.HashString(rawURL))
	}
	sum := sha1.Sum([]byte(rawURL)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Algorithm reports the configured algorithm.
func (f *Fingerprinter) Algorithm() string {
	return f.algorithm
}

// Normalize applies purell's safe normalisations. Unparseable URLs are
// returned unchanged.
func Normalize(rawURL string) string {
	out, err := purell.NormalizeURLString(rawURL, purell.FlagsSafe|purell.FlagRemoveFragment)
	if err != nil {
		return rawURL
	}
	return out
}
