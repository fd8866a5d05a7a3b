package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchCanonicalTitleExact(t *testing.T) {
	assert.Equal(t, "Generate code", MatchCanonicalTitle("Generate code"))
}

func TestMatchCanonicalTitleFuzzy(t *testing.T) {
	assert.Equal(t, "Validate & build", MatchCanonicalTitle("Validate & build."))
}

func TestMatchCanonicalTitleNoMatch(t *testing.T) {
	assert.Equal(t, "", MatchCanonicalTitle("completely unrelated text about weather"))
}

func TestMatchStepIndexUnknownTitleReturnsNegativeOne(t *testing.T) {
	steps := []Step{{Title: "Analyze request"}}
	assert.Equal(t, -1, matchStepIndex(steps, "something else entirely"))
}
