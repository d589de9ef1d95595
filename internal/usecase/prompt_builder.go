package usecase

import (
	"fmt"
	"strings"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"
)

// PromptContext carries one retrieved chunk plus the metadata the model
// needs to cite it.
type PromptContext struct {
	ChunkID         string
	Title           string
	URL             string
	PublishedAt     string
	Score           float32
	DocumentVersion int
	ChunkText       string
}

// PromptInput feeds one Build call.
type PromptInput struct {
	Query         string
	Locale        string
	PromptVersion string
	Contexts      []PromptContext
}

// PromptBuilder renders the chat messages sent to the LLM.
type PromptBuilder interface {
	Build(input PromptInput) ([]domain.Message, error)
}

// answerInstructions is the fixed part of the system prompt. The numbered
// rules and the JSON keys below are what the output parser and validator
// expect back.
var answerInstructions = []string{
	"You are an AI assistant that answers questions based ONLY on the provided <context>.",
	"1. Read the <context> documents carefully.",
	"2. Answer the <query> using strictly the facts found in the <context>.",
	"3. IMPORTANT: Only set \"fallback\": true if the context contains absolutely NO relevant information. If ANY relevant information exists, you MUST answer, even partially.",
	"4. Your \"answer\" field MUST be a Markdown string structured as:",
	"   ## Overview",
	"   [Brief introduction to the topic]",
	"",
	"   ## Key Points",
	"   - **Point 1**: [Description with citation] [chunk_id]",
	"   - **Point 2**: [Description with citation] [chunk_id]",
	"",
	"   ## Summary",
	"   [Conclusion with key takeaways]",
	"",
	"5. Target length: 200-500 words depending on available context.",
	"6. You MUST cite your statements using the metadata from the context.",
	"   - The \"citations\" array in your JSON output must list every chunk_id your answer uses.",
	"   - Within the answer text, append [chunk_id] at the end of sentences to mark the source.",
	"7. Never add external knowledge or invented facts.",
	"8. If the query is in Japanese, translate English facts from the context into natural Japanese.",
	"9. Follow the JSON format below EXACTLY.",
}

const answerFormat = `<format>
JSON: {
  "answer": "Markdown text value... [chunk_id]",
  "citations": [{"chunk_id":"...", "reason":"optional reason"}],
  "fallback": false,  // Set true ONLY if no relevant context exists
  "reason": ""  // Explain why fallback is true, if applicable
}
</format>
`

// XMLPromptBuilder renders prompts as tagged blocks so instructions, context
// documents, and the query stay cleanly separated for the model.
type XMLPromptBuilder struct {
	additionalInstructions []string
}

// NewXMLPromptBuilder returns a builder. Extra instruction lines, such as a
// language directive, are appended after the fixed rules.
func NewXMLPromptBuilder(additionalInstructions ...string) PromptBuilder {
	return &XMLPromptBuilder{additionalInstructions: additionalInstructions}
}

// Build produces a system message with instructions and output format, and a
// user message with the context documents and query.
func (b *XMLPromptBuilder) Build(input PromptInput) ([]domain.Message, error) {
	if input.PromptVersion == "" {
		return nil, fmt.Errorf("prompt version is required")
	}

	var sys strings.Builder
	sys.WriteString("<instructions>\n")
	writeTag(&sys, "  ", "locale", escape(input.Locale))
	for _, inst := range answerInstructions {
		writeTag(&sys, "  ", "line", escape(inst))
	}
	for _, inst := range b.additionalInstructions {
		writeTag(&sys, "  ", "line", escape(inst))
	}
	sys.WriteString("</instructions>\n\n")
	sys.WriteString(answerFormat)

	var user strings.Builder
	fmt.Fprintf(&user, "<context version=%q>\n", escape(input.PromptVersion))
	for _, ctx := range input.Contexts {
		writeDocument(&user, ctx)
	}
	user.WriteString("</context>\n\n")
	user.WriteString("<query>\n")
	user.WriteString(escape(input.Query))
	user.WriteString("\n</query>\n")

	return []domain.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}, nil
}

func writeDocument(sb *strings.Builder, ctx PromptContext) {
	sb.WriteString("  <document>\n")
	writeTag(sb, "    ", "chunk_id", escape(ctx.ChunkID))
	writeTag(sb, "    ", "title", escape(ctx.Title))
	writeTag(sb, "    ", "url", escape(ctx.URL))
	writeTag(sb, "    ", "published_at", escape(ctx.PublishedAt))
	writeTag(sb, "    ", "score", fmt.Sprintf("%.6f", ctx.Score))
	writeTag(sb, "    ", "document_version", fmt.Sprintf("%d", ctx.DocumentVersion))
	writeTag(sb, "    ", "chunk_text", escape(ctx.ChunkText))
	sb.WriteString("  </document>\n")
}

func writeTag(sb *strings.Builder, indent, tag, value string) {
	sb.WriteString(indent)
	sb.WriteString("<")
	sb.WriteString(tag)
	sb.WriteString(">")
	sb.WriteString(value)
	sb.WriteString("</")
	sb.WriteString(tag)
	sb.WriteString(">\n")
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&#39;",
)

// escape trims and XML-escapes a value so chunk text cannot break out of its
// enclosing tag.
func escape(value string) string {
	return xmlEscaper.Replace(strings.TrimSpace(value))
}
