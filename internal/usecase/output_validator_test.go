package usecase_test

import (
	"testing"

	"github.com/Kaikei-e/Alt-sub006/internal/usecase"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputValidator_Validate_EscapeSequences(t *testing.T) {
	validator := usecase.NewOutputValidator()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "newlines",
			body: `{"answer": "Line 1\nLine 2\nLine 3", "citations": [], "fallback": false, "reason": ""}`,
			want: "Line 1\nLine 2\nLine 3",
		},
		{
			name: "tabs",
			body: `{"answer": "Column1\tColumn2\tColumn3", "citations": [], "fallback": false, "reason": ""}`,
			want: "Column1\tColumn2\tColumn3",
		},
		{
			name: "crlf",
			body: `{"answer": "Line 1\r\nLine 2", "citations": [], "fallback": false, "reason": ""}`,
			want: "Line 1\r\nLine 2",
		},
		{
			name: "escaped quotes",
			body: `{"answer": "He said \"Hello\"", "citations": [], "fallback": false, "reason": ""}`,
			want: "He said \"Hello\"",
		},
		{
			name: "escaped backslashes",
			body: `{"answer": "Path: C:\\Users\\test", "citations": [], "fallback": false, "reason": ""}`,
			want: "Path: C:\\Users\\test",
		},
		{
			name: "markdown structure",
			body: `{"answer": "## Heading\n\n### Subheading\n\n- Item 1\n- Item 2", "citations": [], "fallback": false, "reason": ""}`,
			want: "## Heading\n\n### Subheading\n\n- Item 1\n- Item 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := validator.Validate(tt.body, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Answer)
		})
	}
}

func TestOutputValidator_Validate_RecoversTruncatedJSON(t *testing.T) {
	// Models that hit the token limit stop mid-object. The answer field
	// streams first, so it must still be salvageable.
	validator := usecase.NewOutputValidator()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "cut inside citations",
			body: `{"answer": "Line 1\nLine 2\nLine 3", "citations": [`,
			want: "Line 1\nLine 2\nLine 3",
		},
		{
			name: "cut after answer with tabs",
			body: `{"answer": "Col1\tCol2", "fallback":`,
			want: "Col1\tCol2",
		},
		{
			name: "cut with escaped quotes in answer",
			body: `{"answer": "He said \"Hi\"", "other":`,
			want: "He said \"Hi\"",
		},
		{
			name: "cut with escaped backslash",
			body: `{"answer": "C:\\path", "x":`,
			want: "C:\\path",
		},
		{
			name: "cut with doubly escaped newline",
			body: `{"answer": "Line 1\\nLine 2", "x":`,
			want: "Line 1\nLine 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := validator.Validate(tt.body, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Answer)
		})
	}
}

func TestOutputValidator_Validate_LiteralBackslashN(t *testing.T) {
	// Some models write the two characters backslash-n into the answer text
	// instead of JSON-encoding a newline, which flattens Markdown onto one
	// line.
	validator := usecase.NewOutputValidator()

	body := `{"answer": "## Heading\\n\\n### Subheading\\n\\n- Item 1\\n- Item 2", "citations": [], "fallback": false, "reason": ""}`

	result, err := validator.Validate(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "## Heading\n\n### Subheading\n\n- Item 1\n- Item 2", result.Answer)
}

func TestOutputValidator_Validate_LiteralConversionSparesOtherEscapes(t *testing.T) {
	// Only backslash-n is rewritten; backslash-t must survive so Windows
	// paths like C:\temp are not mangled.
	validator := usecase.NewOutputValidator()

	body := `{"answer": "Line 1\\nLine 2 with tab:\there", "citations": [], "fallback": false, "reason": ""}`

	result, err := validator.Validate(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "Line 1\nLine 2 with tab:\there", result.Answer)
}

func TestOutputValidator_Validate_EmptyAnswers(t *testing.T) {
	validator := usecase.NewOutputValidator()

	t.Run("empty answer without fallback is rejected", func(t *testing.T) {
		result, err := validator.Validate(`{"answer": "", "citations": [], "fallback": false, "reason": ""}`, nil)
		require.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "empty answer without fallback")
	})

	t.Run("whitespace-only answer is rejected", func(t *testing.T) {
		result, err := validator.Validate(`{"answer": "   \n  \n  ", "citations": [], "fallback": false, "reason": ""}`, nil)
		require.Error(t, err)
		assert.Nil(t, result)
	})

	t.Run("empty answer with fallback passes", func(t *testing.T) {
		result, err := validator.Validate(`{"answer": "", "citations": [], "fallback": true, "reason": "insufficient context"}`, nil)
		require.NoError(t, err)
		assert.True(t, result.Fallback)
		assert.Equal(t, "insufficient context", result.Reason)
	})

	t.Run("blank response is rejected", func(t *testing.T) {
		_, err := validator.Validate("   ", nil)
		require.Error(t, err)
	})
}

func TestOutputValidator_Validate_CitationsMustMatchContexts(t *testing.T) {
	validator := usecase.NewOutputValidator()

	known := uuid.New()
	contexts := []usecase.ContextItem{{ChunkID: known, ChunkText: "some chunk"}}

	t.Run("citation of a retrieved chunk passes", func(t *testing.T) {
		body := `{"answer": "Grounded answer [` + known.String() + `]", "citations": [{"chunk_id": "` + known.String() + `"}], "fallback": false, "reason": ""}`
		result, err := validator.Validate(body, contexts)
		require.NoError(t, err)
		require.Len(t, result.Citations, 1)
		assert.Equal(t, known.String(), result.Citations[0].ChunkID)
	})

	t.Run("citation of an unknown chunk is rejected", func(t *testing.T) {
		body := `{"answer": "Invented answer", "citations": [{"chunk_id": "` + uuid.NewString() + `"}], "fallback": false, "reason": ""}`
		_, err := validator.Validate(body, contexts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown chunk")
	})

	t.Run("citation without chunk_id is rejected", func(t *testing.T) {
		body := `{"answer": "Answer", "citations": [{"reason": "no id"}], "fallback": false, "reason": ""}`
		_, err := validator.Validate(body, contexts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing chunk_id")
	})

	t.Run("citations are not checked without contexts", func(t *testing.T) {
		body := `{"answer": "Answer", "citations": [{"chunk_id": "anything"}], "fallback": false, "reason": ""}`
		_, err := validator.Validate(body, nil)
		require.NoError(t, err)
	})
}
