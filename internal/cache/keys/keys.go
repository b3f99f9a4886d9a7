// Package keys derives result-cache keys. A key is a readable prefix plus an
// xxhash of the canonical polygon and every request parameter, so two
// requests share a key exactly when they would produce the same result.
package keys

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
)

// Latest is the date token used when the newest scene is always wanted.
const Latest = "latest"

type Fingerprint struct {
	Prefix    string
	Index     string
	Cloud     int
	DateToken string
	Sum       uint64
}

// New fingerprints a request. The polygon is canonicalized first, so vertex
// rotation, winding and an explicit closing vertex do not change the key.
func New(prefix string, poly geo.Polygon, index string, cloud int, dateToken string) Fingerprint {
	if dateToken == "" {
		dateToken = Latest
	}
	d := xxhash.New()
	for _, v := range geo.Canonical(poly) {
		_, _ = d.WriteString(strconv.FormatFloat(v.Lat, 'f', 7, 64))
		_, _ = d.WriteString(",")
		_, _ = d.WriteString(strconv.FormatFloat(v.Lng, 'f', 7, 64))
		_, _ = d.WriteString(";")
	}
	_, _ = fmt.Fprintf(d, "|%s|%d|%s", strings.ToUpper(index), cloud, dateToken)

	return Fingerprint{
		Prefix:    prefix,
		Index:     strings.ToUpper(index),
		Cloud:     cloud,
		DateToken: dateToken,
		Sum:       d.Sum64(),
	}
}

func (f Fingerprint) Key() string {
	return fmt.Sprintf("%s:%s:c%d:%s:fp=%016x",
		sanitizeForKey(f.Prefix), sanitizeForKey(f.Index), f.Cloud, sanitizeForKey(f.DateToken), f.Sum)
}

func (f Fingerprint) String() string { return f.Key() }

func (f Fingerprint) IsLatest() bool { return f.DateToken == Latest }

// Hex is the bare hash, used for logging and content addressing.
func (f Fingerprint) Hex() string { return fmt.Sprintf("%016x", f.Sum) }

func sanitizeForKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// ':' is the segment separator; it and anything non-ASCII become '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
