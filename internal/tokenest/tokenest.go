// Package tokenest provides token counting for bundle budgeting. BPE
// encoders are probed once at construction; when a family's encoder is
// unavailable the estimator silently falls back to a cheap heuristic.
// Estimation is pure and is called once per candidate item per bundle.
package tokenest

import (
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Family selects the token accounting model.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGeneric   Family = "generic"
)

// punctuation chars counted at half weight by the heuristic.
const punctuation = ".,;:!?()[]{}\"'`"

// Estimator counts tokens per family. The zero value is not usable; call New.
type Estimator struct {
	encoders map[Family]*tiktoken.Tiktoken
}

// New probes the BPE backends and returns an Estimator. cl100k_base covers
// both the openai and anthropic families closely enough for budgeting;
// failures to load an encoding are silent and leave the heuristic in place.
func New() *Estimator {
	e := &Estimator{encoders: make(map[Family]*tiktoken.Tiktoken)}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		e.encoders[FamilyOpenAI] = enc
		e.encoders[FamilyAnthropic] = enc
	}
	return e
}

// ParseFamily maps a config string to a Family, defaulting to generic.
func ParseFamily(s string) Family {
	switch Family(strings.ToLower(strings.TrimSpace(s))) {
	case FamilyOpenAI:
		return FamilyOpenAI
	case FamilyAnthropic:
		return FamilyAnthropic
	default:
		return FamilyGeneric
	}
}

// Backends reports which families have a BPE encoder loaded, for startup
// diagnostics.
func (e *Estimator) Backends() []Family {
	var out []Family
	for _, f := range []Family{FamilyOpenAI, FamilyAnthropic} {
		if e.encoders[f] != nil {
			out = append(out, f)
		}
	}
	return out
}

// Estimate returns a positive token count for text under the given family.
func (e *Estimator) Estimate(text string, family Family) int {
	if enc := e.encoders[family]; enc != nil {
		n := len(enc.Encode(text, nil, nil))
		if n < 1 {
			n = 1
		}
		return n
	}
	return Heuristic(text)
}

// Heuristic estimates tokens as max(1, ceil(words*1.25 + punct*0.5 +
// nonASCII*0.5)). Words are maximal runs of non-whitespace; punctuation and
// non-ASCII code points add half a token each.
func Heuristic(text string) int {
	words := len(strings.Fields(text))
	var punct, nonASCII int
	for _, r := range text {
		if strings.ContainsRune(punctuation, r) {
			punct++
		}
		if r > 0x7F {
			nonASCII++
		}
	}
	est := int(math.Ceil(float64(words)*1.25 + float64(punct)*0.5 + float64(nonASCII)*0.5))
	if est < 1 {
		est = 1
	}
	return est
}
