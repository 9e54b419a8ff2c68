package toxicity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `
rules:
  - pattern: '\bidiot\b'
    category: harassment
    severity: medium
    weight: 0.9
  - pattern: '\bstupid\b'
    category: harassment
    severity: low
    weight: 0.5
  - pattern: '\bspam\b'
    category: spam
    severity: low
    weight: 0.3
whitelist:
  - classic
  - game
`

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	rs, err := ParseRules([]byte(testRules))
	require.NoError(t, err)
	return NewClassifier(ClassifierConfig{
		Enabled: true,
		Rules:   rs,
	})
}

func TestNormalizeText(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		text string
		out  string
	}{
		{text: "", out: ""},
		{text: "Fück  y0uuuu", out: "fuck youu"},
		{text: "h3ll0 w0rld", out: "hello world"},
		{text: "f*ck", out: "fuck"},
		{text: "i-d_i-o-t", out: "idiot"},
		{text: "sooooo   good", out: "soo good"},
		{text: "$tup1d", out: "stupid"},
		// separators go first, then the dots they leave adjacent
		{text: "a.-.b", out: "ab"},
		{text: "id._.iot", out: "idiot"},
		{text: "wait...", out: "wait."},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.out, NormalizeText(fix.text), fix.text)
	}
}

func TestParseRules(t *testing.T) {
	assert := assert.New(t)

	rs, err := ParseRules([]byte(testRules))
	assert.NoError(err)
	assert.Equal(3, rs.Len())

	_, err = ParseRules([]byte("rules: []"))
	assert.Error(err)

	_, err = ParseRules([]byte("rules:\n  - pattern: '('\n    category: spam\n"))
	assert.Error(err)

	_, err = ParseRules([]byte("rules: {"))
	assert.Error(err)

	assert.True(DefaultRules().Len() > 0)
}

func TestClassifyRules(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c := testClassifier(t)

	score, err := c.Classify(ctx, "you are an idiot and stupid person")
	require.NoError(t, err)
	assert.True(score.Toxic)
	assert.Equal(1.0, score.ConfidenceScore)
	assert.Equal([]string{"harassment"}, score.ReasonCodes)
	assert.Len(score.MatchedPatterns, 2)

	score, err = c.Classify(ctx, "you are an idiot")
	require.NoError(t, err)
	assert.True(score.Toxic)
	assert.InDelta(0.9, score.ConfidenceScore, 0.0001)

	// obfuscation is folded before matching
	score, err = c.Classify(ctx, "you are an 1d10t")
	require.NoError(t, err)
	assert.True(score.Toxic)

	// quoting halves the score
	score, err = c.Classify(ctx, `"you are an idiot"`)
	require.NoError(t, err)
	assert.False(score.Toxic)
	assert.InDelta(0.45, score.Categories["harassment"], 0.0001)

	// short text
	score, err = c.Classify(ctx, "idiot")
	require.NoError(t, err)
	assert.False(score.Toxic)
	assert.InDelta(0.72, score.ConfidenceScore, 0.0001)

	score, err = c.Classify(ctx, "this is spam spam spam")
	require.NoError(t, err)
	assert.False(score.Toxic)
	assert.Empty(score.ReasonCodes)
	assert.InDelta(0.3, score.Categories["spam"], 0.0001)

	score, err = c.Classify(ctx, "Classic game!")
	require.NoError(t, err)
	assert.False(score.Toxic)
	assert.Empty(score.Categories)

	score, err = c.Classify(ctx, "what a great play")
	require.NoError(t, err)
	assert.False(score.Toxic)
	assert.Equal(0.0, score.ConfidenceScore)
}

func TestContextMultiplier(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(1.0, contextMultiplier("a normal sentence here"))
	assert.InDelta(0.8, contextMultiplier("short"), 0.0001)
	assert.InDelta(0.5, contextMultiplier(`"a quoted sentence here"`), 0.0001)
	assert.InDelta(0.6, contextMultiplier("```some code block```"), 0.0001)
	assert.InDelta(0.7, contextMultiplier("see https://example.com/x"), 0.0001)
	assert.InDelta(0.8, contextMultiplier("@someone said this thing"), 0.0001)
	assert.InDelta(0.7*0.8, contextMultiplier("@bob look at www.example.com"), 0.0001)
}

func TestDisabledClassifier(t *testing.T) {
	rs, err := ParseRules([]byte(testRules))
	require.NoError(t, err)
	c := NewClassifier(ClassifierConfig{Enabled: false, Rules: rs})

	score, err := c.Classify(context.Background(), "you are an idiot and stupid person")
	require.NoError(t, err)
	assert.False(t, score.Toxic)
	assert.Empty(t, score.ReasonCodes)
}

func TestSummarizeOrdering(t *testing.T) {
	assert := assert.New(t)
	c := NewClassifier(ClassifierConfig{Enabled: true, Threshold: 0.5})

	score := c.summarize(map[string]float64{
		"a": 0.9,
		"b": 1.0,
		"c": 0.9,
		"d": 0.1,
	})
	assert.True(score.Toxic)
	assert.Equal(1.0, score.ConfidenceScore)
	assert.Equal([]string{"b", "a", "c"}, score.ReasonCodes)
}

func TestPerspective(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Goog-Api-Key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var req perspectiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Comment.Text == "boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"attributeScores": {
			"TOXICITY": {"summaryScore": {"value": 0.92}},
			"INSULT": {"summaryScore": {"value": 0.4}}
		}}`))
	}))
	defer srv.Close()

	c := NewClassifier(ClassifierConfig{
		Enabled:        true,
		PerspectiveURL: srv.URL,
		PerspectiveKey: "secret",
		PerspectiveRPS: 100,
		HTTPClient:     srv.Client(),
	})

	score, err := c.Classify(context.Background(), "whatever")
	require.NoError(t, err)
	assert.True(score.Toxic)
	assert.InDelta(0.92, score.ConfidenceScore, 0.0001)
	assert.Equal([]string{"TOXICITY"}, score.ReasonCodes)
	assert.Equal("toxic", QueueReason(score))

	_, err = c.Classify(context.Background(), "boom")
	assert.Error(err)

	bad := NewClassifier(ClassifierConfig{
		Enabled:        true,
		PerspectiveURL: srv.URL,
		PerspectiveKey: "wrong",
		HTTPClient:     srv.Client(),
	})
	_, err = bad.Classify(context.Background(), "whatever")
	assert.Error(err)
}

func TestQueueHelpers(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(50, QueuePriority(0.3))
	assert.Equal(75, QueuePriority(0.75))
	assert.Equal(100, QueuePriority(1.5))

	assert.Equal("toxic", QueueReason(&Score{}))
	assert.Equal("offensive", QueueReason(&Score{ReasonCodes: []string{"profanity"}}))
	assert.Equal("harassment", QueueReason(&Score{ReasonCodes: []string{"threats", "spam"}}))
	assert.Equal("other", QueueReason(&Score{ReasonCodes: []string{"mystery"}}))
}

func TestEvaluate(t *testing.T) {
	assert := assert.New(t)
	c := testClassifier(t)

	ev, err := c.Evaluate(context.Background(), []Sample{
		{Text: "you are an idiot", Toxic: true},
		{Text: "you are an idiot and stupid", Toxic: false},
		{Text: "nice clip, well played", Toxic: true},
		{Text: "nice clip, well played", Toxic: false},
		{Text: "great stream tonight", Toxic: false},
	})
	require.NoError(t, err)
	assert.Equal(1, ev.TruePositives)
	assert.Equal(1, ev.FalsePositives)
	assert.Equal(1, ev.FalseNegatives)
	assert.Equal(2, ev.TrueNegatives)
	assert.InDelta(0.5, ev.Precision, 0.0001)
	assert.InDelta(0.5, ev.Recall, 0.0001)
	assert.InDelta(1.0/3.0, ev.FalsePositiveRate, 0.0001)
}
