package recollect

import (
	"strings"
	"unicode"
)

// leetReplacer folds common character substitutions used to dodge
// filters ("h4te" -> "hate").
var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
)

// ContentPolicy refuses prompts containing banned terms before anything
// is stored or sent to the model.
//
// Matching is on whole words, ignoring case, diacritics and common
// character substitutions. Multi-word terms match consecutive words.
type ContentPolicy struct {
	terms          []string
	refusalMessage string
}

func NewContentPolicy(config *PolicyConfig) *ContentPolicy {
	if config == nil {
		config = DefaultConfig().Policy
	}
	p := &ContentPolicy{refusalMessage: config.RefusalMessage}
	for _, term := range config.BannedTerms {
		normalized := policyNormalize(term)
		if normalized == "" {
			continue
		}
		p.terms = append(p.terms, normalized)
	}
	return p
}

// Violates reports whether text contains a banned term.
func (p *ContentPolicy) Violates(text string) bool {
	if len(p.terms) == 0 {
		return false
	}
	normalized := policyNormalize(text)
	if normalized == "" {
		return false
	}
	padded := " " + normalized + " "
	for _, term := range p.terms {
		if strings.Contains(padded, " "+term+" ") {
			return true
		}
	}
	return false
}

// RefusalMessage is the reply sent when a prompt is refused.
func (p *ContentPolicy) RefusalMessage() string {
	return p.refusalMessage
}

// policyNormalize folds text to space-separated lowercase words without
// diacritics.
func policyNormalize(s string) string {
	s = leetReplacer.Replace(foldText(s))
	words := strings.FieldsFunc(
		s, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		},
	)
	return strings.Join(words, " ")
}
