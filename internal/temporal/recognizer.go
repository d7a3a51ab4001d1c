// Package temporal recognizes a bounded grammar of Spanish date/time phrases
// inside free-form message text and resolves them against an anchor instant.
// Recognition is deliberately narrow: day words, weekdays, clock times and
// simple ranges. Anything outside the grammar yields no expression rather
// than a guess.
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Span is one recognized phrase before correction. Start/End are resolved in
// the anchor's location; End is zero unless the phrase was a range.
type Span struct {
	Raw              string
	Start            time.Time
	End              time.Time
	HasEnd           bool
	HasClockTime     bool
	ExplicitMeridiem bool
	Certainty        float64
}

// Recognizer finds temporal phrases in text relative to an anchor instant.
// Implementations must be safe for concurrent use.
type Recognizer interface {
	Recognize(text string, anchor time.Time) []Span
}

// Certainty tiers assigned by the Spanish recognizer.
const (
	certaintyExplicit = 0.95 // clock time with explicit am/pm marker
	certaintyBareTime = 0.80 // clock time, meridiem left ambiguous
	certaintyDayOnly  = 0.50 // day word without any clock time
)

// Hour assumed when only a day word is present.
const defaultHour = 9

var (
	// "de 2:30 a 4", "2-4 pm", "de 14 a 16"
	rangeRE = regexp.MustCompile(`(?i)(?:\bde\s+)?\b(\d{1,2})(?::(\d{2}))?\s*(?:-|\sa\s)\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.?\s?m\.?|p\.?\s?m\.?|hrs)?\b`)
	// "a las 6:30", "6 pm", "a la 1"
	timeRE = regexp.MustCompile(`(?i)(?:\ba\s+las?\s+)?\b(\d{1,2}):(\d{2})\s*(am|pm|a\.?\s?m\.?|p\.?\s?m\.?|hrs)?\b|(?:\ba\s+las?\s+)\b(\d{1,2})\s*(am|pm|a\.?\s?m\.?|p\.?\s?m\.?|hrs)?\b|\b(\d{1,2})\s*(am|pm|hrs)\b`)

	weekdays = map[string]time.Weekday{
		"lunes":     time.Monday,
		"martes":    time.Tuesday,
		"miercoles": time.Wednesday,
		"miércoles": time.Wednesday,
		"jueves":    time.Thursday,
		"viernes":   time.Friday,
		"sabado":    time.Saturday,
		"sábado":    time.Saturday,
		"domingo":   time.Sunday,
	}
)

// SpanishRecognizer implements Recognizer for the bounded Spanish grammar.
// The zero value is ready to use.
type SpanishRecognizer struct{}

// NewSpanishRecognizer returns the default recognizer.
func NewSpanishRecognizer() *SpanishRecognizer { return &SpanishRecognizer{} }

// Recognize returns at most one span: the first phrase the grammar accepts.
func (r *SpanishRecognizer) Recognize(text string, anchor time.Time) []Span {
	lower := strings.ToLower(text)

	dayOffset, dayFound, dayRaw := resolveDay(lower, anchor)
	base := anchor.AddDate(0, 0, dayOffset)

	if m := rangeRE.FindStringSubmatch(text); m != nil {
		sh, _ := strconv.Atoi(m[1])
		sm := atoiDefault(m[2], 0)
		eh, _ := strconv.Atoi(m[3])
		em := atoiDefault(m[4], 0)
		if validClock(sh, sm) && validClock(eh, em) {
			mer, explicit := meridiem(m[5], lower)
			sh, eh = applyMeridiem(sh, mer), applyMeridiem(eh, mer)
			span := Span{
				Raw:              strings.TrimSpace(joinRaw(dayRaw, m[0])),
				Start:            at(base, sh, sm),
				End:              at(base, eh, em),
				HasEnd:           true,
				HasClockTime:     true,
				ExplicitMeridiem: explicit,
				Certainty:        certaintyBareTime,
			}
			if explicit {
				span.Certainty = certaintyExplicit
			}
			return []Span{span}
		}
	}

	if m := timeRE.FindStringSubmatch(text); m != nil {
		h, min, merTok := pickTimeMatch(m)
		if validClock(h, min) {
			mer, explicit := meridiem(merTok, lower)
			h = applyMeridiem(h, mer)
			span := Span{
				Raw:              strings.TrimSpace(joinRaw(dayRaw, m[0])),
				Start:            at(base, h, min),
				HasClockTime:     true,
				ExplicitMeridiem: explicit,
				Certainty:        certaintyBareTime,
			}
			if explicit {
				span.Certainty = certaintyExplicit
			}
			return []Span{span}
		}
	}

	if dayFound {
		return []Span{{
			Raw:       dayRaw,
			Start:     at(base, defaultHour, 0),
			Certainty: certaintyDayOnly,
		}}
	}
	return nil
}

// resolveDay finds the day word and returns its offset in days from the
// anchor. "pasado mañana" must be checked before "mañana".
func resolveDay(lower string, anchor time.Time) (offset int, found bool, raw string) {
	switch {
	case strings.Contains(lower, "pasado mañana") || strings.Contains(lower, "pasado manana"):
		return 2, true, "pasado mañana"
	case strings.Contains(lower, "mañana") || strings.Contains(lower, "manana"):
		return 1, true, "mañana"
	case strings.Contains(lower, "hoy"):
		return 0, true, "hoy"
	}
	for name, wd := range weekdays {
		if containsWord(lower, name) {
			d := (int(wd) - int(anchor.Weekday()) + 7) % 7
			return d, true, name
		}
	}
	return 0, false, ""
}

// meridiem interprets an inline token ("pm", "a.m.") or a trailing Spanish
// phrase ("de la tarde"). mer is -1 unknown, 0 am, 1 pm.
func meridiem(tok, lower string) (mer int, explicit bool) {
	tok = strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(tok, ".", ""), " ", ""))
	switch tok {
	case "am":
		return 0, true
	case "pm":
		return 1, true
	case "hrs":
		// 24-hour marker: the hour is literal, treat as explicit.
		return -1, true
	}
	switch {
	case strings.Contains(lower, "de la mañana") || strings.Contains(lower, "de la manana"):
		return 0, true
	case strings.Contains(lower, "de la tarde"), strings.Contains(lower, "de la noche"):
		return 1, true
	}
	return -1, false
}

func applyMeridiem(h, mer int) int {
	if mer == 1 && h < 12 {
		return h + 12
	}
	if mer == 0 && h == 12 {
		return 0
	}
	return h
}

func pickTimeMatch(m []string) (h, min int, merTok string) {
	switch {
	case m[1] != "": // H:MM form
		h, _ = strconv.Atoi(m[1])
		min = atoiDefault(m[2], 0)
		merTok = m[3]
	case m[4] != "": // "a las H"
		h, _ = strconv.Atoi(m[4])
		merTok = m[5]
	default: // bare "H pm"
		h, _ = strconv.Atoi(m[6])
		merTok = m[7]
	}
	return h, min, merTok
}

func at(base time.Time, h, m int) time.Time {
	return time.Date(base.Year(), base.Month(), base.Day(), h, m, 0, 0, base.Location())
}

func validClock(h, m int) bool { return h >= 0 && h <= 23 && m >= 0 && m <= 59 }

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func joinRaw(day, clock string) string {
	if day == "" {
		return clock
	}
	return day + " " + strings.TrimSpace(clock)
}

func containsWord(s, w string) bool {
	for i := strings.Index(s, w); i >= 0; {
		before := i == 0 || !isLetter(s[i-1])
		afterIdx := i + len(w)
		after := afterIdx >= len(s) || !isLetter(s[afterIdx])
		if before && after {
			return true
		}
		j := strings.Index(s[i+1:], w)
		if j < 0 {
			return false
		}
		i = i + 1 + j
	}
	return false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= 0x80
}
