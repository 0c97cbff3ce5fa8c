package trace

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

type canonicalRecord struct {
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
}

// Fingerprint hashes the hash-stable projection of records. Volatile keys
// are dropped, records are sorted by name then serialized attributes, and the
// SHA-256 digest of the concatenated JSON is returned as hex. With no records
// the digest of runID is returned instead.
func Fingerprint(records []Record, runID string) (string, error) {
	if len(records) == 0 {
		sum := sha256.Sum256([]byte(runID))
		return hex.EncodeToString(sum[:]), nil
	}

	type keyed struct {
		name  string
		attrs []byte
		rec   canonicalRecord
	}
	items := make([]keyed, 0, len(records))
	for _, r := range records {
		attrs := make(map[string]any)
		for k, v := range r.Attributes {
			if IsStable(k) {
				attrs[k] = normalize(v)
			}
		}
		// encoding/json sorts map keys, giving a canonical form.
		b, err := json.Marshal(attrs)
		if err != nil {
			return "", fmt.Errorf("canonicalize %s: %w", r.Name, err)
		}
		items = append(items, keyed{name: r.Name, attrs: b, rec: canonicalRecord{Name: r.Name, Attributes: attrs}})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].name != items[j].name {
			return items[i].name < items[j].name
		}
		return bytes.Compare(items[i].attrs, items[j].attrs) < 0
	})

	h := sha256.New()
	for _, it := range items {
		b, err := json.Marshal(it.rec)
		if err != nil {
			return "", fmt.Errorf("serialize %s: %w", it.name, err)
		}
		h.Write(b)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// normalize folds numeric types so records read back from JSON hash the same
// as freshly recorded ones.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
