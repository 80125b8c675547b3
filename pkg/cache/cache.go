// Package cache implements content-addressed lookup of prior phase
// outputs, keyed by a stable Fingerprint, so retries and crash-recovery
// skip re-running expensive provider calls.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Entry is a content-addressed record for an expensive sub-artifact:
// fingerprint -> location in the Artifact Store, with a last-hit time
// for LRU eviction.
type Entry struct {
	Fingerprint string
	Scope       string // "global" or a user id — covers are user-scoped, concepts may be global
	Location    string
	ContentHash string
	CreatedAt   time.Time
	LastHitAt   time.Time
}

// Store is the Cache's persistence surface. Writes are atomic
// publication: Put either fully succeeds or the caller sees no entry at
// all, never a partial one.
type Store interface {
	Get(ctx context.Context, scope, fingerprint string) (*Entry, error)
	Put(ctx context.Context, e Entry) error
	Touch(ctx context.Context, scope, fingerprint string, when time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ErrNotFound is returned by Get on a cache miss, which is a normal,
// expected outcome rather than a failure.
var ErrNotFound = fmt.Errorf("cache: entry not found")

// Fingerprint computes a stable hash of (phaseName, canonicalized input,
// configVersion). JSON keys are sorted before hashing so two inputs
// differing only in map key order produce identical fingerprints.
func Fingerprint(phaseName string, input any, configVersion string) (string, error) {
	canon, err := canonicalize(input)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize input: %w", err)
	}

	h := sha256.New()
	fmt.Fprintf(h, "phase:%s\nconfig:%s\ninput:%s", phaseName, configVersion, canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalize round-trips v through JSON with sorted map keys so
// semantically-identical inputs always serialize identically.
func canonicalize(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	var buf []byte
	buf, err = canonicalMarshal(generic)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte("{")
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	case []any:
		out := []byte("[")
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			ib, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ib...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(val)
	}
}
