package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateNil returns an error naming msg if data is nil.
func ValidateNil(data interface{}, msg string) error {
	if data == nil {
		return errors.New(msg + ` must be specified`)
	}
	return nil
}

// ByteSliceEqual reports whether a and b hold the same bytes, treating a nil
// slice and an empty non-nil slice as distinct.
func ByteSliceEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	if (a == nil) != (b == nil) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

// TargetPair is one resolved `<name>.abi`/`<name>.bin` pair from a
// `target <glob-or-address>` CLI argument, per spec.md §6.
type TargetPair struct {
	Name    string
	ABIPath string
	BinPath string
}

// ResolveTargetGlob expands a shell glob into matched .bin files and
// requires each to have a sibling .abi file, per spec.md §6.
func ResolveTargetGlob(glob string) ([]TargetPair, error) {
	binMatches, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("invalid target glob %q: %w", glob, err)
	}
	var pairs []TargetPair
	for _, bin := range binMatches {
		if !strings.HasSuffix(bin, ".bin") {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(bin), ".bin")
		abi := strings.TrimSuffix(bin, ".bin") + ".abi"
		if _, statErr := os.Stat(abi); statErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingTargetPair, name)
		}
		pairs = append(pairs, TargetPair{Name: name, ABIPath: abi, BinPath: bin})
	}
	return pairs, nil
}
