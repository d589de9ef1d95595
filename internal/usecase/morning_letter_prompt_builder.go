package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"
)

// MorningLetterPromptInput carries everything needed to compose the topic
// extraction prompt.
type MorningLetterPromptInput struct {
	Query      string
	Contexts   []ContextItem
	Since      time.Time
	Until      time.Time
	TopicLimit int
	Locale     string
}

// MorningLetterPromptBuilder builds the chat messages for topic extraction.
type MorningLetterPromptBuilder interface {
	Build(input MorningLetterPromptInput) ([]domain.Message, error)
}

// morningLetterPromptBuilder renders the instructions in Japanese to match
// the deployment's output language.
type morningLetterPromptBuilder struct{}

// NewMorningLetterPromptBuilder creates a morning letter prompt builder.
func NewMorningLetterPromptBuilder() MorningLetterPromptBuilder {
	return &morningLetterPromptBuilder{}
}

// Build constructs the prompt messages for morning letter topic extraction.
func (b *morningLetterPromptBuilder) Build(input MorningLetterPromptInput) ([]domain.Message, error) {
	if len(input.Contexts) == 0 {
		return nil, fmt.Errorf("no contexts provided")
	}

	topicLimit := input.TopicLimit
	if topicLimit <= 0 {
		topicLimit = 10
	}

	hoursWindow := int(input.Until.Sub(input.Since).Hours())

	var sysSb strings.Builder
	sysSb.WriteString("あなたは重要トピックの特定と要約を専門とするニュースアナリストです。\n")
	sysSb.WriteString("Reasoning: medium\n\n")

	sysSb.WriteString("### タスク\n")
	sysSb.WriteString(fmt.Sprintf("過去%d時間のニュースを分析し、最も重要なトピックを特定してください。\n", hoursWindow))
	sysSb.WriteString(fmt.Sprintf("対象期間: %s から %s まで\n\n",
		input.Since.Format("2006-01-02 15:04 JST"),
		input.Until.Format("2006-01-02 15:04 JST")))

	sysSb.WriteString("### 指示\n")
	sysSb.WriteString(fmt.Sprintf("1. コンテキストから最大%d個の重要トピックを特定してください。\n", topicLimit))
	sysSb.WriteString("2. 各トピックについて以下を含めてください:\n")
	sysSb.WriteString("   - 簡潔なトピック名(2〜5語)\n")
	sysSb.WriteString("   - 1行の見出し\n")
	sysSb.WriteString("   - 2〜3文の要約\n")
	sysSb.WriteString("   - 重要度スコア(0.0〜1.0)\n")
	sysSb.WriteString("   - 参照した記事のインデックス [index]\n")
	sysSb.WriteString("3. 優先順位は新しさ、報道の広がり、影響の大きさの順です。\n")
	sysSb.WriteString("4. クエリが日本語の場合は日本語で回答してください。\n")
	sysSb.WriteString("5. 出力は必ず有効なJSONにしてください。\n\n")

	sysSb.WriteString("### 出力形式\n")
	sysSb.WriteString("```json\n")
	sysSb.WriteString("{\n")
	sysSb.WriteString("  \"topics\": [\n")
	sysSb.WriteString("    {\n")
	sysSb.WriteString("      \"topic\": \"トピック名\",\n")
	sysSb.WriteString("      \"headline\": \"1行の見出し...\",\n")
	sysSb.WriteString("      \"summary\": \"2〜3文の要約...\",\n")
	sysSb.WriteString("      \"importance\": 0.9,\n")
	sysSb.WriteString("      \"article_refs\": [1, 3, 5],\n")
	sysSb.WriteString("      \"keywords\": [\"keyword1\", \"keyword2\"]\n")
	sysSb.WriteString("    }\n")
	sysSb.WriteString("  ],\n")
	sysSb.WriteString("  \"meta\": {\n")
	sysSb.WriteString("    \"topics_found\": 3,\n")
	sysSb.WriteString("    \"coverage_assessment\": \"comprehensive|partial|limited\"\n")
	sysSb.WriteString("  }\n")
	sysSb.WriteString("}\n")
	sysSb.WriteString("```\n")

	var userSb strings.Builder
	userSb.WriteString("### コンテキスト(最近のニュース)\n")
	for i, ctx := range input.Contexts {
		userSb.WriteString(fmt.Sprintf("[%d] %s (%s)\n", i+1, ctx.Title, ctx.PublishedAt))
		userSb.WriteString(ctx.ChunkText)
		userSb.WriteString("\n\n")
	}

	userSb.WriteString("### ユーザーのクエリ\n")
	userSb.WriteString(input.Query)
	if input.Locale != "" {
		userSb.WriteString(fmt.Sprintf("\n(希望言語: %s)", input.Locale))
	}

	return []domain.Message{
		{Role: "system", Content: sysSb.String()},
		{Role: "user", Content: userSb.String()},
	}, nil
}
