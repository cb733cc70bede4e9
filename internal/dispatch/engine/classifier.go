package engine

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"authhub/internal/dispatch"
)

// DefaultTypeACodes are the operators integrated with synchronous
// acknowledgment.
func DefaultTypeACodes() []string {
	return []string{
		"BRADESCO", "BRADESCO_SAUDE",
		"SULAMERICA", "SUL_AMERICA", "SULAMERICA_SAUDE",
		"AMIL", "AMIL_SAUDE",
		"PORTO", "PORTO_SEGURO",
		"OMINT",
	}
}

// DefaultTypeBCodes are the operators resolved by asynchronous polling.
func DefaultTypeBCodes() []string {
	return []string{
		"UNIMED", "UNIMED_ANAPOLIS",
		"ALLIANZ_SAUDE",
		"CAREPLUS", "CARE_PLUS",
		"MEDISERVICE", "MEDISERVICE_SAUDE",
	}
}

// Classifier resolves an operator code to its dispatch classification.
// Classification is a pure function of the normalized code; unmatched codes
// default to TYPE_C.
type Classifier struct {
	typeA map[string]struct{}
	typeB map[string]struct{}
}

func NewClassifier(typeACodes, typeBCodes []string) *Classifier {
	c := &Classifier{
		typeA: make(map[string]struct{}, len(typeACodes)),
		typeB: make(map[string]struct{}, len(typeBCodes)),
	}
	for _, code := range typeACodes {
		c.typeA[NormalizeOperatorCode(code)] = struct{}{}
	}
	for _, code := range typeBCodes {
		c.typeB[NormalizeOperatorCode(code)] = struct{}{}
	}
	return c
}

// Classify returns the classification for an operator code.
func (c *Classifier) Classify(operatorCode string) dispatch.Type {
	normalized := NormalizeOperatorCode(operatorCode)
	if _, ok := c.typeA[normalized]; ok {
		return dispatch.TypeA
	}
	if _, ok := c.typeB[normalized]; ok {
		return dispatch.TypeB
	}
	return dispatch.TypeC
}

// NormalizeOperatorCode strips diacritics, uppercases, collapses runs of
// non-alphanumerics to a single underscore and trims leading/trailing
// underscores, so "Sul América  Saúde" and "SUL_AMERICA_SAUDE" compare equal.
func NormalizeOperatorCode(code string) string {
	decomposed := norm.NFD.String(strings.TrimSpace(code))
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}

	upper := strings.ToUpper(b.String())
	var out strings.Builder
	out.Grow(len(upper))
	lastUnderscore := false
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			out.WriteRune('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(out.String(), "_")
}
