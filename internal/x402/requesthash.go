package x402

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// HashRequest computes the canonical SHA-256 digest that binds a challenge to
// one specific request:
//
//	METHOD "\n" PATH "\n" CANONICAL_QUERY "\n" RAW_BODY
//
// The three separators are always present. The digest is a pure function of
// its inputs: no clocks, no randomness, no headers. The body is hashed as raw
// bytes and never parsed, so JSON key reordering changes the hash.
func HashRequest(method, path, rawQuery string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write([]byte(CanonicalQuery(rawQuery)))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type queryPair struct {
	key, value string
}

// CanonicalQuery normalizes a raw query string (no leading '?') into a
// deterministic form: pairs sorted lexicographically by key (stable, so value
// order per key is preserved), keys and values re-encoded as URI components
// with space as %20. Undecodable pairs are kept verbatim so two requests with
// the same broken query still hash identically. Empty input yields "".
func CanonicalQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	var pairs []queryPair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		pairs = append(pairs, queryPair{key: key, value: value})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].key < pairs[j].key
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escapeComponent(p.key))
		b.WriteByte('=')
		b.WriteString(escapeComponent(p.value))
	}
	return b.String()
}

// escapeComponent percent-encodes a URI component with space as %20, not '+'.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
