package sqlmap

import (
	"encoding/binary"
	"hash/fnv"
	"reflect"
)

// Column describes one column of the cursor's current result set.
type Column struct {
	Name         string
	DatabaseType string       // driver-reported type name, may be empty
	ScanType     reflect.Type // nil when the driver does not report one
}

// layoutHash digests column count, ordinal names and declared types. Equal
// hashes are treated as deserialization-compatible layouts.
func layoutHash(cols []Column) uint64 {
	h := fnv.New64a()
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(cols)))
	_, _ = h.Write(n[:])
	for _, c := range cols {
		_, _ = h.Write([]byte(c.Name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(c.DatabaseType))
		_, _ = h.Write([]byte{0})
		if c.ScanType != nil {
			_, _ = h.Write([]byte(c.ScanType.String()))
		}
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// ---------------- Column normalization (ASCII fast-path) ----------------

func normalizeColAscii(s string) string {
	if l := len(s); l >= 2 {
		switch s[0] {
		case '"':
			if s[l-1] == '"' {
				s = s[1 : l-1]
			}
		case '`':
			if s[l-1] == '`' {
				s = s[1 : l-1]
			}
		case '[':
			if s[l-1] == ']' {
				s = s[1 : l-1]
			}
		}
	}
	return toLowerAscii(s)
}

func toLowerAscii(s string) string {
	var need bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			need = true
			break
		}
	}
	if !need {
		return s
	}
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c = c + ('a' - 'A')
		}
		b[i] = c
	}
	return string(b)
}
