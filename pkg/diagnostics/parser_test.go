package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTypeScriptError(t *testing.T) {
	output := "src/app.tsx(12,5): error TS2339: Property 'foo' does not exist on type 'Bar'.\n"

	diags := Parse(output)

	assert.Len(t, diags, 1)
	assert.Equal(t, "src/app.tsx", diags[0].File)
	assert.Equal(t, 12, diags[0].Line)
	assert.Equal(t, 5, diags[0].Col)
	assert.Equal(t, SeverityError, diags[0].Severity)
	assert.Contains(t, diags[0].Message, "Property 'foo'")
	assert.Equal(t, "typescript", diags[0].Source)
}

func TestParseTypeScriptWarning(t *testing.T) {
	output := "src/app.tsx(3,1): warning TS6133: 'unused' is declared but never used.\n"

	diags := Parse(output)

	assert.Len(t, diags, 1)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
}

func TestParseESLintAttributesRowsToPrecedingFile(t *testing.T) {
	output := "" +
		"/workspace/src/components/Button.tsx\n" +
		"  12:5  error  'foo' is not defined  no-undef\n" +
		"  18:1  warning  missing display name  react/display-name\n" +
		"\n" +
		"/workspace/src/components/Card.tsx\n" +
		"  4:10  error  unexpected token  no-unexpected\n"

	diags := Parse(output)

	assert.Len(t, diags, 3)
	assert.Equal(t, "/workspace/src/components/Button.tsx", diags[0].File)
	assert.Equal(t, 12, diags[0].Line)
	assert.Equal(t, SeverityError, diags[0].Severity)
	assert.Equal(t, "/workspace/src/components/Button.tsx", diags[1].File)
	assert.Equal(t, SeverityWarning, diags[1].Severity)
	assert.Equal(t, "/workspace/src/components/Card.tsx", diags[2].File)
	assert.Equal(t, 4, diags[2].Line)
}

func TestParseFallsBackToGenericWhenNoKnownFormatMatches(t *testing.T) {
	output := "src/index.js:10:3: Unexpected token\n"

	diags := Parse(output)

	assert.Len(t, diags, 1)
	assert.Equal(t, "src/index.js", diags[0].File)
	assert.Equal(t, 10, diags[0].Line)
	assert.Equal(t, 3, diags[0].Col)
	assert.Equal(t, "generic", diags[0].Source)
}

func TestParseUnrecognizedOutputYieldsNoDiagnostics(t *testing.T) {
	diags := Parse("npm ERR! something went wrong, no idea what though\n")
	assert.Empty(t, diags)
}

func TestParsePrefersTypeScriptAndESLintOverGeneric(t *testing.T) {
	output := "src/app.tsx(12,5): error TS2339: Property 'foo' does not exist.\n"

	diags := Parse(output)

	assert.Len(t, diags, 1)
	assert.Equal(t, "typescript", diags[0].Source)
}
