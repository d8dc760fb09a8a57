// Package schema maps attribute names onto the field-name space of legacy
// tabular formats: at most 10 characters drawn from ASCII letters, digits
// and underscore.
package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength is the DBF field-name limit.
const MaxLength = 10

// minLength is the shortest fallback name that still carries content.
const minLength = 3

// sentinel replaces names that transliterate to (almost) nothing.
const sentinel = "fld"

// Encoder turns (name, prefix) pairs into bounded field names. It holds only
// its vocabulary and is safe for concurrent use; per-run collision state
// lives in Schema.
type Encoder struct {
	vocabulary map[string]string
}

// NewEncoder builds an encoder from the built-in vocabulary extended, and
// overridden, by extra.
func NewEncoder(extra map[string]string) *Encoder {
	vocab := make(map[string]string, len(builtinVocabulary)+len(extra))
	for k, v := range builtinVocabulary {
		vocab[k] = v
	}
	for k, v := range extra {
		vocab[k] = v
	}
	return &Encoder{vocabulary: vocab}
}

func DefaultEncoder() *Encoder { return NewEncoder(nil) }

// Encode is deterministic for a (name, prefix) pair. It returns prefix+name
// verbatim when that is already a legal field name, then tries the
// vocabulary, then falls back to transliteration.
func (e *Encoder) Encode(name, prefix string) string {
	combined := prefix + name
	if len(combined) <= MaxLength && IsValid(combined) {
		return combined
	}
	if token, ok := e.vocabulary[name]; ok {
		return truncate(transliterate(prefix) + token)
	}
	out := truncate(transliterate(combined))
	if len(out) < minLength {
		return sentinelFor(prefix)
	}
	return out
}

// IsValid reports whether s is a non-empty run of ASCII letters, digits and
// underscores. Length is not checked.
func IsValid(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

// transliterate decomposes s to its closest ASCII form: accents are
// stripped, characters without an ASCII approximation are dropped and any
// other non-alphanumeric character becomes an underscore.
func transliterate(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		decomposed = s
	}
	var b strings.Builder
	for _, r := range decomposed {
		switch {
		case r > unicode.MaxASCII:
			continue
		case isIdentByte(byte(r)):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func sentinelFor(prefix string) string {
	p := transliterate(prefix)
	if len(p) > MaxLength-len(sentinel) {
		p = p[:MaxLength-len(sentinel)]
	}
	return p + sentinel
}

func truncate(s string) string {
	if len(s) > MaxLength {
		return s[:MaxLength]
	}
	return s
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}
