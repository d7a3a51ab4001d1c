// Package identity canonicalizes raw phone-number and JID strings into the
// gateway's canonical identity form. Normalization is total: it never fails,
// it degrades to a best-effort canonicalization so no event is lost here.
package identity

import (
	"strings"

	"github.com/flowhook/reactor/internal/model"
)

// Tables holds the country-specific prefix configuration. The area-code and
// prefix sets are deliberately external configuration, not inferred rules;
// defaults cover the deployment's home country (Mexico) plus North America.
type Tables struct {
	// CountryCode is the bare 2-digit country code, e.g. "52".
	CountryCode string `yaml:"countryCode"`
	// MobileMarker is the 1-digit marker inserted after CountryCode for
	// mobile numbers, e.g. "1" -> canonical prefix "521".
	MobileMarker string `yaml:"mobileMarker"`
	// NACountryCode is the 1-digit North-American country code.
	NACountryCode string `yaml:"naCountryCode"`
	// AreaCodes lists 2-digit domestic area codes: a 10-digit number that
	// starts with one of these belongs to CountryCode, otherwise to NA.
	AreaCodes []string `yaml:"areaCodes"`
}

// DefaultTables returns the built-in prefix configuration.
func DefaultTables() Tables {
	return Tables{
		CountryCode:   "52",
		MobileMarker:  "1",
		NACountryCode: "1",
		AreaCodes:     []string{"55", "56", "33", "81", "66", "99", "22", "44"},
	}
}

// Normalizer maps raw phone-number strings into canonical identities.
type Normalizer struct {
	tables   Tables
	areaSet  map[string]struct{}
	mobileCC string // CountryCode + MobileMarker
}

// New builds a Normalizer from the given tables. Zero-value fields fall back
// to the defaults so a partially filled config section stays usable.
func New(t Tables) *Normalizer {
	def := DefaultTables()
	if t.CountryCode == "" {
		t.CountryCode = def.CountryCode
	}
	if t.MobileMarker == "" {
		t.MobileMarker = def.MobileMarker
	}
	if t.NACountryCode == "" {
		t.NACountryCode = def.NACountryCode
	}
	if len(t.AreaCodes) == 0 {
		t.AreaCodes = def.AreaCodes
	}
	n := &Normalizer{
		tables:   t,
		areaSet:  make(map[string]struct{}, len(t.AreaCodes)),
		mobileCC: t.CountryCode + t.MobileMarker,
	}
	for _, a := range t.AreaCodes {
		n.areaSet[a] = struct{}{}
	}
	return n
}

// Normalize canonicalizes a raw phone number or JID. First match wins:
//
//  1. group suffix present in the raw form -> group identity
//  2. digits start with the canonical mobile prefix and length >= 13 -> as-is
//  3. digits start with the bare country code and length == 12 -> insert the
//     missing mobile marker after the country code
//  4. digits start with the NA country code and length == 11 -> as-is
//  5. length == 10 -> domestic area code decides which prefix to prepend
//  6. otherwise the digits are emitted unchanged with the individual suffix
//
// Empty or non-numeric input yields an empty-digit identity; rejecting that
// is the caller's job, the normalizer stays total.
func (n *Normalizer) Normalize(raw string) model.Identity {
	raw = strings.TrimSpace(raw)

	if i := strings.Index(raw, model.GroupSuffix); i >= 0 {
		return model.Identity(stripSpace(raw[:i]) + model.GroupSuffix)
	}

	// Hidden-list JIDs map onto the individual form.
	if i := strings.Index(raw, "@lid"); i >= 0 {
		raw = raw[:i]
	} else if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}

	digits := keepDigits(raw)
	digits = strings.TrimLeft(digits, "0")

	switch {
	case strings.HasPrefix(digits, n.mobileCC) && len(digits) >= 13:
		// already canonical
	case strings.HasPrefix(digits, n.tables.CountryCode) && len(digits) == 12:
		digits = n.mobileCC + digits[len(n.tables.CountryCode):]
	case strings.HasPrefix(digits, n.tables.NACountryCode) && len(digits) == 11:
		// canonical NA form
	case len(digits) == 10:
		if _, ok := n.areaSet[digits[:2]]; ok {
			digits = n.mobileCC + digits
		} else {
			digits = n.tables.NACountryCode + digits
		}
	}

	return model.Identity(digits + model.IndividualSuffix)
}

func keepDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
}
