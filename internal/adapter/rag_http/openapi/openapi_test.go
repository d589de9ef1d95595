package openapi_test

import (
	"context"
	"testing"

	"github.com/Kaikei-e/Alt-sub006/internal/adapter/rag_http/openapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSwagger_EmbeddedSpecLoads(t *testing.T) {
	doc, err := openapi.GetSwagger()
	require.NoError(t, err)
	require.NotNil(t, doc)

	assert.Equal(t, "RAG Orchestrator API", doc.Info.Title)
	assert.NoError(t, doc.Validate(context.Background()))
}

// Every route RegisterHandlers wires must exist in the published contract,
// under the operation id the generated wrapper dispatches on.
func TestGetSwagger_RoutesMatchRegisteredHandlers(t *testing.T) {
	doc, err := openapi.GetSwagger()
	require.NoError(t, err)

	operations := map[string]string{
		"/v1/rag/retrieve":      "RetrieveContext",
		"/v1/rag/answer":        "AnswerWithRAG",
		"/v1/rag/answer/stream": "AnswerWithRAGStream",
		"/v1/rag/index/upsert":  "UpsertIndex",
		"/v1/rag/index/delete":  "DeleteIndex",
	}
	for path, operationID := range operations {
		item := doc.Paths.Find(path)
		require.NotNil(t, item, "path %s missing from spec", path)
		require.NotNil(t, item.Post, "path %s must define POST", path)
		assert.Equal(t, operationID, item.Post.OperationID)
	}
}

func TestGetSwagger_RequestSchemasRequireCoreFields(t *testing.T) {
	doc, err := openapi.GetSwagger()
	require.NoError(t, err)

	schemas := doc.Components.Schemas
	tests := map[string][]string{
		"RetrieveRequest":    {"query"},
		"AnswerRequest":      {"query"},
		"UpsertIndexRequest": {"article_id", "title", "url", "body", "user_id"},
		"DeleteIndexRequest": {"article_id"},
	}
	for name, required := range tests {
		ref, ok := schemas[name]
		require.True(t, ok, "schema %s missing", name)
		assert.ElementsMatch(t, required, ref.Value.Required, "schema %s", name)
	}
}
