package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// OutputValidator parses the JSON emitted by the generation model and enforces
// the answer contract before anything reaches API clients.
type OutputValidator struct{}

// NewOutputValidator creates a validator instance (currently stateless).
func NewOutputValidator() OutputValidator {
	return OutputValidator{}
}

// Validate parses and checks the JSON output emitted by the LLM. Truncated
// output is recovered by extracting the answer field alone. When contexts are
// supplied, every citation must reference one of the retrieved chunks.
func (v OutputValidator) Validate(raw string, contexts []ContextItem) (*LLMAnswer, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("llm response is empty")
	}

	var answer LLMAnswer
	if err := json.Unmarshal([]byte(trimmed), &answer); err != nil {
		// Models sometimes stop mid-object when they run out of tokens. The
		// answer field streams first, so a manual extraction usually salvages it.
		extracted, extractErr := extractAnswerOnly(trimmed)
		if extractErr != nil {
			return nil, fmt.Errorf("failed to parse llm response: %w", err)
		}
		answer = LLMAnswer{Answer: extracted}
	}

	answer.Answer = convertLiteralEscapes(answer.Answer)

	if !answer.Fallback && strings.TrimSpace(answer.Answer) == "" {
		return nil, errors.New("empty answer without fallback")
	}

	if len(contexts) > 0 {
		allowed := make(map[string]struct{}, len(contexts))
		for _, ctx := range contexts {
			allowed[ctx.ChunkID.String()] = struct{}{}
		}
		for _, cite := range answer.Citations {
			if cite.ChunkID == "" {
				return nil, errors.New("citation missing chunk_id")
			}
			if _, ok := allowed[cite.ChunkID]; !ok {
				return nil, fmt.Errorf("citation references unknown chunk %s", cite.ChunkID)
			}
		}
	}

	return &answer, nil
}

// extractAnswerOnly pulls the answer string out of malformed JSON by locating
// the key and unescaping the value by hand. If the closing quote never
// arrived, the content up to the truncation point is returned.
func extractAnswerOnly(raw string) (string, error) {
	keyIdx := strings.Index(raw, `"answer"`)
	if keyIdx == -1 {
		return "", errors.New("answer key not found")
	}

	rest := raw[keyIdx+len(`"answer"`):]
	start := -1
	for i, r := range rest {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ':' {
			continue
		}
		if r == '"' {
			start = i + 1
		}
		break
	}
	if start == -1 {
		return "", errors.New("answer value not found")
	}

	var b strings.Builder
	escaped := false
	for _, r := range rest[start:] {
		if escaped {
			escaped = false
			switch r {
			case 'n':
				b.WriteRune('\n')
			case 'r':
				b.WriteRune('\r')
			case 't':
				b.WriteRune('\t')
			case '"':
				b.WriteRune('"')
			case '\\':
				b.WriteRune('\\')
			default:
				b.WriteRune('\\')
				b.WriteRune(r)
			}
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if r == '"' {
			break
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

// convertLiteralEscapes turns literal backslash-n sequences into newlines.
// Some models write the escape out instead of encoding it, which leaves
// Markdown answers on a single line. Only \n is converted so Windows paths
// like C:\temp survive.
func convertLiteralEscapes(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// LLMAnswer models the JSON object the format section of the prompt enforces.
type LLMAnswer struct {
	Answer    string        `json:"answer"`
	Citations []LLMCitation `json:"citations"`
	Fallback  bool          `json:"fallback"`
	Reason    string        `json:"reason"`
}

// LLMCitation declares a chunk referenced in the final answer.
type LLMCitation struct {
	ChunkID string `json:"chunk_id"`
	Reason  string `json:"reason"`
}
