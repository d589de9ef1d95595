package domain

import "context"

// QueryExpander rewrites a user query into alternate phrasings that broaden
// dense-retrieval recall. japaneseCount and englishCount hint how many
// rewrites of each language the service should return.
type QueryExpander interface {
	ExpandQuery(ctx context.Context, query string, japaneseCount, englishCount int) ([]string, error)
}
