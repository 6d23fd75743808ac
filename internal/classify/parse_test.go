package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_WholeObject(t *testing.T) {
	p, err := Parse(`{"category":"lead","intent":"request","urgency":"high",
		"extracted_entities":{"names":["Ann"]},"summary":"Wants pricing","confidence":77}`)
	require.NoError(t, err)
	assert.Equal(t, "lead", p.Category)
	assert.Equal(t, "request", p.Intent)
	assert.Equal(t, "high", p.Urgency)
	assert.Equal(t, "Wants pricing", p.Summary)
	assert.Equal(t, 77, p.Confidence)
	assert.JSONEq(t, `{"names":["Ann"]}`, string(p.ExtractedEntities))
	assert.False(t, p.IsSpam())
}

func TestParse_EmbeddedInProse(t *testing.T) {
	raw := "Sure! Here is the classification:\n```json\n{\"category\": \"support\", \"summary\": \"Login {broken}\"}\n```\nLet me know."
	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "support", p.Category)
	assert.Equal(t, "Login {broken}", p.Summary)
	assert.Equal(t, DefaultConfidence, p.Confidence)
	assert.JSONEq(t, `{}`, string(p.ExtractedEntities))
}

func TestParse_SkipsMalformedBraces(t *testing.T) {
	p, err := Parse(`note {this is not json} result: {"category":"billing"}`)
	require.NoError(t, err)
	assert.Equal(t, "billing", p.Category)
}

func TestParse_Spam(t *testing.T) {
	p, err := Parse(`{"category": "SPAM"}`)
	require.NoError(t, err)
	assert.True(t, p.IsSpam())
}

func TestParse_Failures(t *testing.T) {
	_, err := Parse("I cannot classify this email.")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = Parse(`[1,2,3]`)
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = Parse(`{"intent":"request"}`)
	assert.ErrorIs(t, err, ErrNoCategory)

	_, err = Parse(`{"category": null}`)
	assert.ErrorIs(t, err, ErrNoCategory)
}

func TestParse_Confidence(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{`{"category":"x","confidence":88.6}`, 89},
		{`{"category":"x","confidence":"75"}`, 75},
		{`{"category":"x","confidence":"80%"}`, 80},
		{`{"category":"x","confidence":150}`, 100},
		{`{"category":"x","confidence":-3}`, 0},
		{`{"category":"x","confidence":1e20}`, 100},
		{`{"category":"x","confidence":"1e300"}`, 100},
		{`{"category":"x","confidence":-1e20}`, 0},
		{`{"category":"x","confidence":"high"}`, DefaultConfidence},
		{`{"category":"x","confidence":null}`, DefaultConfidence},
	}
	for _, tt := range tests {
		p, err := Parse(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, p.Confidence, tt.raw)
	}
}

func TestParse_EntitiesListIsKept(t *testing.T) {
	p, err := Parse(`{"category":"lead","extracted_entities":["ann@x.test", "+1 555 0100"]}`)
	require.NoError(t, err)
	assert.JSONEq(t, `["ann@x.test","+1 555 0100"]`, string(p.ExtractedEntities))
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("Need a quote", "Hi, can you price 20 units?")
	assert.Contains(t, prompt, "Email subject: Need a quote")
	assert.Contains(t, prompt, "Email snippet: Hi, can you price 20 units?")
	assert.Contains(t, prompt, `{"category": "spam"}`)
	assert.Contains(t, prompt, "Return only JSON.")
}
