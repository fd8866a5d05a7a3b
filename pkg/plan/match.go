package plan

import (
	"strings"

	"github.com/agext/levenshtein"
)

// matchThreshold is the minimum similarity (0..1) for a fuzzy title match
// to be accepted; below this the title is considered unmatched rather
// than risk mutating the wrong step.
const matchThreshold = 0.6

var matchParams = levenshtein.NewParams()

// matchStepIndex returns the index of the step in steps whose title best
// matches title, tolerating the small paraphrases a model tends to
// produce around the canonical titles ("Generating code..." vs
// "Generate code"). Returns -1 if nothing clears matchThreshold.
func matchStepIndex(steps []Step, title string) int {
	best := -1
	bestScore := matchThreshold
	for i, s := range steps {
		if s.Title == title {
			return i
		}
		if containsFold(title, s.Title) {
			return i
		}
		score := levenshtein.Match(s.Title, title, matchParams)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	return best
}

// containsFold reports whether needle appears in haystack, case-folded —
// a model narrating its own progress often names a step verbatim inside
// a longer sentence ("Now I'll **Generate code** for the app").
func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// MatchCanonicalTitle maps free-form text (e.g. a sentence from the
// model's own narration) onto the closest canonical step title, or ""
// if nothing clears matchThreshold. Used by callers that only have a
// loose description of what the agent is currently doing.
func MatchCanonicalTitle(text string) string {
	best := ""
	bestScore := matchThreshold
	for _, title := range CanonicalTitles {
		if containsFold(text, title) {
			return title
		}
		score := levenshtein.Match(title, text, matchParams)
		if score > bestScore {
			bestScore = score
			best = title
		}
	}
	return best
}
