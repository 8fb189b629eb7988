// Package detect extracts promises, corrections and open questions from turn
// text. Detection is structural pattern matching, not language understanding:
// a miss is a normal "no signal" result, never an error.
package detect

import (
	"regexp"
	"strings"
)

// Detector is the pluggable extraction capability. Implementations return
// (result, true) on a match and (zero, false) otherwise.
type Detector[T any] interface {
	Detect(text string) (T, bool)
}

// Correction is a user correction or stated preference.
type Correction struct {
	Kind  string // "name", "preference", "correction"
	Value string
}

// CommitmentDetector finds promises in agent output.
type CommitmentDetector struct {
	patterns []*regexp.Regexp
}

// NewCommitmentDetector returns a detector with the default pattern set.
func NewCommitmentDetector() *CommitmentDetector {
	return &CommitmentDetector{patterns: []*regexp.Regexp{
		regexp.MustCompile(`vou\s+(?:te\s+)?(.+)`),
		regexp.MustCompile(`posso\s+(?:te\s+)?(.+)`),
		regexp.MustCompile(`a\s+partir\s+de\s+agora\s+(.+)`),
		regexp.MustCompile(`sempre\s+que\s+(.+),\s*(?:vou|farei)\s+(.+)`),
		regexp.MustCompile(`prometo\s+(.+)`),
		regexp.MustCompile(`vamos\s+(.+)`),
	}}
}

// Detect returns the promise description when the text contains one.
func (d *CommitmentDetector) Detect(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, re := range d.patterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		desc := m[0]
		if len(m) > 1 && m[1] != "" {
			desc = m[1]
		}
		return strings.TrimSpace(desc), true
	}
	return "", false
}

// CorrectionDetector finds user corrections and preferences.
type CorrectionDetector struct {
	namePatterns []*regexp.Regexp
	prefPatterns []*regexp.Regexp
	misc         []*regexp.Regexp
}

// NewCorrectionDetector returns a detector with the default pattern set.
func NewCorrectionDetector() *CorrectionDetector {
	return &CorrectionDetector{
		namePatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?:meu|o)\s+nome\s+(?:é|eh)\s+(\p{L}+)`),
			regexp.MustCompile(`(?:me\s+chamo|chamo-me)\s+(\p{L}+)`),
		},
		prefPatterns: []*regexp.Regexp{
			regexp.MustCompile(`prefiro\s+(.+)`),
			regexp.MustCompile(`não\s+gosto\s+(?:de\s+)?(.+)`),
		},
		misc: []*regexp.Regexp{
			regexp.MustCompile(`na\s+verdade\s+(.+)`),
		},
	}
}

// Detect classifies the correction when the text contains one. Name matches
// win over preferences so "na verdade, meu nome é Maria" yields a name fact.
func (d *CorrectionDetector) Detect(text string) (Correction, bool) {
	lower := strings.ToLower(text)
	for _, re := range d.namePatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			return Correction{Kind: "name", Value: strings.TrimSpace(m[1])}, true
		}
	}
	for _, re := range d.prefPatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			return Correction{Kind: "preference", Value: strings.TrimSpace(m[1])}, true
		}
	}
	for _, re := range d.misc {
		if m := re.FindStringSubmatch(lower); m != nil {
			return Correction{Kind: "correction", Value: strings.TrimSpace(m[1])}, true
		}
	}
	return Correction{}, false
}

// RevisionDetector finds self-revisions in agent output: first-person
// statements introduced by a correction marker, signalling an earlier claim
// no longer holds.
type RevisionDetector struct {
	patterns []*regexp.Regexp
}

// NewRevisionDetector returns a detector with the default pattern set.
func NewRevisionDetector() *RevisionDetector {
	return &RevisionDetector{patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)na\s+verdade,?\s+(eu\s+[^.!?\n]+)`),
		regexp.MustCompile(`(?i)pensando\s+melhor,?\s+(eu\s+[^.!?\n]+)`),
		regexp.MustCompile(`(?i)me\s+corrigindo[,:]?\s+(eu\s+[^.!?\n]+)`),
	}}
}

// Detect returns the revised first-person claim when the text contains one.
func (d *RevisionDetector) Detect(text string) (string, bool) {
	for _, re := range d.patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

// ClaimSubject strips the first-person stance from a revised claim, leaving
// the fragment that identifies which earlier claim it supersedes. Returns
// empty when nothing identifying remains.
func ClaimSubject(claim string) string {
	lower := strings.ToLower(strings.TrimSpace(claim))
	for _, prefix := range []string{
		"eu não posso", "eu nao posso", "eu não consigo", "eu nao consigo",
		"eu não sou", "eu nao sou", "eu posso", "eu consigo", "eu sou",
	} {
		if strings.HasPrefix(lower, prefix) {
			rest := strings.TrimSpace(lower[len(prefix):])
			if len([]rune(rest)) >= 4 {
				return rest
			}
			return ""
		}
	}
	return ""
}

// OpenLoopDetector finds unanswered questions and pending tasks.
type OpenLoopDetector struct {
	patterns []*regexp.Regexp
}

// NewOpenLoopDetector returns a detector with the default pattern set.
func NewOpenLoopDetector() *OpenLoopDetector {
	return &OpenLoopDetector{patterns: []*regexp.Regexp{
		regexp.MustCompile(`(.+)\?$`),
		regexp.MustCompile(`(?i)(?:poderia|pode|consegue)\s+(.+)`),
		regexp.MustCompile(`(?i)(?:você\s+)?(?:sabe|conhece)\s+(.+)`),
	}}
}

// Detect returns the open-loop description when the text contains one.
func (d *OpenLoopDetector) Detect(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	for _, re := range d.patterns {
		if m := re.FindString(trimmed); m != "" {
			return strings.TrimSpace(m), true
		}
	}
	return "", false
}
