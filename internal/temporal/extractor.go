package temporal

import (
	"strings"
	"time"

	"github.com/flowhook/reactor/internal/model"
)

// DefaultEveningKeywords are text hints that an ambiguous daytime hour was
// meant in the afternoon or evening.
var DefaultEveningKeywords = []string{
	"tarde", "noche", "meet", "reunión", "reunion", "junta", "cena", "llamada",
}

// Penalty applied to the certainty score when a meridiem correction fires:
// the correction is a heuristic, so it must be visible in the confidence.
const correctionPenalty = 0.9

// Extractor wraps a Recognizer and applies the meridiem correction pass.
type Extractor struct {
	rec      Recognizer
	keywords []string
}

// NewExtractor builds an Extractor. Nil keywords fall back to
// DefaultEveningKeywords; pass an empty non-nil slice to disable the
// keyword-based correction entirely.
func NewExtractor(rec Recognizer, eveningKeywords []string) *Extractor {
	if eveningKeywords == nil {
		eveningKeywords = DefaultEveningKeywords
	}
	return &Extractor{rec: rec, keywords: eveningKeywords}
}

// Extract recognizes the first temporal phrase in text and resolves it
// against the anchor. The second return is false when nothing in the bounded
// grammar matched.
//
// A recognized hour with no explicit am/pm marker is corrected forward by 12
// hours when either rule fires, and at most one correction ever applies:
//
//  1. the resolved instant falls on the anchor's calendar day and is already
//     in the past (people rarely schedule backwards), or
//  2. the hour is between 4 and 11 and the text carries an evening keyword.
func (e *Extractor) Extract(text string, anchor time.Time) (model.TemporalExpression, bool) {
	spans := e.rec.Recognize(text, anchor)
	if len(spans) == 0 {
		return model.TemporalExpression{}, false
	}
	sp := spans[0]

	corrected := false
	if sp.HasClockTime && !sp.ExplicitMeridiem {
		h := sp.Start.Hour()
		switch {
		case h >= 1 && h <= 11 && sameDay(sp.Start, anchor) && sp.Start.Before(anchor):
			sp = shiftForward(sp)
			corrected = true
		case h >= 4 && h <= 11 && e.hasEveningKeyword(text):
			sp = shiftForward(sp)
			corrected = true
		}
	}

	confidence := sp.Certainty
	if corrected {
		confidence *= correctionPenalty
	}

	expr := model.TemporalExpression{
		Anchor:        anchor,
		RawSpan:       sp.Raw,
		ResolvedStart: sp.Start,
		Confidence:    confidence,
		Corrected:     corrected,
	}
	if sp.HasEnd {
		end := sp.End
		expr.ResolvedEnd = &end
	}
	return expr, true
}

func (e *Extractor) hasEveningKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range e.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func shiftForward(sp Span) Span {
	sp.Start = addClockHours(sp.Start, 12)
	if sp.HasEnd {
		sp.End = addClockHours(sp.End, 12)
	}
	return sp
}

// addClockHours shifts the wall clock, not the instant: across a DST
// transition Add(12h) would land on 11:xx or 13:xx.
func addClockHours(t time.Time, h int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+h, t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
