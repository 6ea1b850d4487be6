// Package roomid generates room identifiers that are easy to read aloud but
// carry enough entropy that unrelated calls never collide.
package roomid

import (
	"fmt"
	"strings"

	"github.com/pion/randutil"
)

const (
	wordCount    = 3
	suffixLength = 6
	suffixRunes  = "abcdefghijkmnpqrstuvwxyz23456789"

	// MaxLength bounds ids accepted by the server.
	MaxLength = 128
)

// New creates a random room ID like "kitten-waffle-luna-x7k2qp".
// Words come from distinct lists; the suffix is drawn from a crypto source.
func New() (string, error) {
	allWords := [][]string{animals, dishes, names, randomWords, adjectives, extras}

	used := make(map[int]bool, wordCount)
	parts := make([]string, 0, wordCount+1)

	for len(parts) < wordCount {
		listIndex, err := randomIndex(len(allWords))
		if err != nil {
			return "", err
		}
		if used[listIndex] {
			continue
		}
		used[listIndex] = true

		list := allWords[listIndex]
		wordIndex, err := randomIndex(len(list))
		if err != nil {
			return "", err
		}
		parts = append(parts, list[wordIndex])
	}

	suffix, err := randutil.GenerateCryptoRandomString(suffixLength, suffixRunes)
	if err != nil {
		return "", fmt.Errorf("generate room suffix: %w", err)
	}
	parts = append(parts, suffix)

	return strings.Join(parts, "-"), nil
}

// Valid reports whether id is acceptable as a room identifier. Ids are
// otherwise opaque.
func Valid(id string) bool {
	if id == "" || len(id) > MaxLength {
		return false
	}
	return strings.TrimSpace(id) == id
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) (int, error) {
	n, err := randutil.CryptoUint64()
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(n % uint64(max)), nil
}
