// Package followup writes the next conversational question after an answer,
// steering short or vague replies toward concrete detail.
package followup

import (
	"regexp"
	"strings"
)

// Intent is what the latest user utterance asks of the conversation.
type Intent int

const (
	// Normal is a substantive reply.
	Normal Intent = iota
	// Elaboration asks to hear more about the current topic.
	Elaboration
	// Vague is too short or noncommittal to build on.
	Vague
)

func (i Intent) String() string {
	switch i {
	case Elaboration:
		return "elaboration"
	case Vague:
		return "vague"
	default:
		return "normal"
	}
}

// minDetailedTokens is the word count below which a reply counts as vague.
const minDetailedTokens = 10

// English and Tagalog.
var elaborationKeywords = []string{
	"tell me more",
	"elaborate",
	"explain",
	"details",
	"continue",
	"go on",
	"more about",
	"what else",
	"can you share more",
	"i'd like to know more",
	"sabihin mo pa",
	"kwento mo pa",
	"ano pa",
	"iba pa",
}

var vaguePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(yes|no|maybe|ok|okay|sure|fine|good|great|nice)\b`),
	regexp.MustCompile(`(?i)^(oo|hindi|siguro|sige|ayos)\b`),
	regexp.MustCompile(`(?i)\b(i don't know|not sure|dunno|walang alam)\b`),
}

// DetectElaboration reports whether the utterance asks for more on the
// same topic.
func DetectElaboration(utterance string) bool {
	s := strings.ToLower(strings.TrimSpace(utterance))
	for _, kw := range elaborationKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// IsVague reports whether the utterance is too short or noncommittal to
// build a follow-up on.
func IsVague(utterance string) bool {
	s := strings.TrimSpace(utterance)
	if len(strings.Fields(s)) < minDetailedTokens {
		return true
	}
	for _, p := range vaguePatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// Classify returns the utterance's intent. Elaboration wins over Vague.
func Classify(utterance string) Intent {
	switch {
	case DetectElaboration(utterance):
		return Elaboration
	case IsVague(utterance):
		return Vague
	default:
		return Normal
	}
}
