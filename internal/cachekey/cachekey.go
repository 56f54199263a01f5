// Package cachekey derives content-addressed cache keys from the semantic
// identity of an outbound request (query text, location bias, place id, ...).
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Length is the length of every derived key (hex-encoded sha256).
const Length = sha256.Size * 2

// Domain prefixes keep differently typed identities apart: the string "1"
// and the number 1 hash different bytes.
const (
	stringDomain = "s:"
	jsonDomain   = "j:"
	goDomain     = "g:"
	partsDomain  = "p:"
)

// partSeparator cannot appear in the textual parts callers pass to DeriveParts
// without being escaped, so ("a|b", "c") and ("a", "b|c") stay distinct.
const partSeparator = "\x1f"

// Derive returns a deterministic, filesystem-safe key for v.
//
// Strings and byte slices are hashed as text. Everything else is serialized
// with encoding/json, which sorts map keys and emits struct fields in
// declaration order, so structurally equal inputs produce the same key.
// Text and JSON are hashed under different prefixes, so a string never
// shares a key with a value whose JSON happens to spell it.
func Derive(v any) string {
	switch t := v.(type) {
	case string:
		return sum(stringDomain, []byte(t))
	case []byte:
		return sum(stringDomain, t)
	}

	data, err := json.Marshal(v)
	if err != nil {
		// Unserializable values (channels, funcs) still get a stable key.
		return sum(goDomain, []byte(fmt.Sprintf("%#v", v)))
	}
	return sum(jsonDomain, data)
}

// DeriveParts hashes a short list of scalar parts, e.g. a place id and a photo width.
func DeriveParts(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = strings.ReplaceAll(p, partSeparator, "\\"+partSeparator)
	}
	return sum(partsDomain, []byte(strings.Join(escaped, partSeparator)))
}

// Valid reports whether key has the shape produced by Derive.
func Valid(key string) bool {
	if len(key) != Length {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}

func sum(domain string, b []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
