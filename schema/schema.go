package schema

import (
	"strconv"
	"strings"
)

// Entry is one assignment made by a Schema.
type Entry struct {
	Name    string
	Prefix  string
	Encoded string
}

// Schema is the encoded field set of one export. Within a Schema the
// mapping from (name, prefix) to encoded name is injective; names are
// compared case-insensitively because DBF field names are. A Schema is not
// safe for concurrent use and is meant to be dropped after the export.
type Schema struct {
	enc     *Encoder
	byKey   map[string]string
	owners  map[string]string
	entries []Entry
}

func (e *Encoder) NewSchema() *Schema {
	return &Schema{
		enc:    e,
		byKey:  make(map[string]string),
		owners: make(map[string]string),
	}
}

// Reserve claims a literal field name, such as a fixed output column or a
// field that already exists at the destination. It returns false if the
// name is not a legal field name or is already taken.
func (s *Schema) Reserve(name string) bool {
	if len(name) > MaxLength || !IsValid(name) {
		return false
	}
	folded := strings.ToUpper(name)
	if _, taken := s.owners[folded]; taken {
		return false
	}
	key := "\x01" + name
	s.owners[folded] = key
	s.byKey[key] = name
	s.entries = append(s.entries, Entry{Name: name, Encoded: name})
	return true
}

// Encode returns the field name for name under prefix. Repeated calls with
// the same pair return the same result. When the encoder's output is
// already owned by a different pair, trailing characters are replaced by a
// counter (target_zon, target_zo1, target_zo2, ...).
func (s *Schema) Encode(name, prefix string) string {
	key := prefix + "\x00" + name
	if encoded, ok := s.byKey[key]; ok {
		return encoded
	}

	base := s.enc.Encode(name, prefix)
	candidate := base
	for n := 1; s.taken(candidate); n++ {
		suffix := strconv.Itoa(n)
		cut := min(len(base), MaxLength-len(suffix))
		candidate = base[:cut] + suffix
	}

	s.owners[strings.ToUpper(candidate)] = key
	s.byKey[key] = candidate
	s.entries = append(s.entries, Entry{Name: name, Prefix: prefix, Encoded: candidate})
	return candidate
}

// Entries lists assignments in the order they were made.
func (s *Schema) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

func (s *Schema) taken(name string) bool {
	_, ok := s.owners[strings.ToUpper(name)]
	return ok
}
