// Package dedupe decides whether a fetched resource's content is new,
// unchanged, or updated relative to what the graph already holds, using a
// normalized content fingerprint. Unchanged content short-circuits the
// expensive stages downstream (chunking, embedding).
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Decision classifies a resource against its stored predecessor.
type Decision int

const (
	// New means no node with this key exists yet.
	New Decision = iota
	// Unchanged means the stored fingerprint matches the computed one.
	Unchanged
	// Updated means a node exists but its content fingerprint differs.
	Updated
)

func (d Decision) String() string {
	switch d {
	case New:
		return "new"
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Fingerprint computes the content fingerprint of body text: the hex
// SHA-256 of the text lowercased with all whitespace runs collapsed to a
// single space. Cosmetic markup changes that do not alter the visible
// text therefore produce the same fingerprint.
func Fingerprint(text string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// FingerprintLookup resolves the stored fingerprint for a node key.
// found is false when no node with that key exists.
type FingerprintLookup interface {
	FingerprintByKey(ctx context.Context, key string) (fp string, found bool, err error)
}

// Evaluator compares computed fingerprints against stored ones.
type Evaluator struct {
	lookup FingerprintLookup
}

// NewEvaluator returns an Evaluator backed by the given lookup.
func NewEvaluator(lookup FingerprintLookup) *Evaluator {
	return &Evaluator{lookup: lookup}
}

// Evaluate returns the Decision for a node key given the fingerprint of
// the freshly extracted content.
func (e *Evaluator) Evaluate(ctx context.Context, key, fingerprint string) (Decision, error) {
	stored, found, err := e.lookup.FingerprintByKey(ctx, key)
	if err != nil {
		return New, fmt.Errorf("dedupe: fingerprint lookup for %s: %w", key, err)
	}
	if !found {
		return New, nil
	}
	if stored == fingerprint {
		return Unchanged, nil
	}
	return Updated, nil
}
