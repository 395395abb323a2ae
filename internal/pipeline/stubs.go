package pipeline

import (
	"context"
	"fmt"

	"github.com/sells-group/schema-cli/pkg/htmlfetch"
	"github.com/sells-group/schema-cli/pkg/pages"
	"github.com/sells-group/schema-cli/pkg/schemagen"
	"github.com/sells-group/schema-cli/pkg/schemaval"
)

// Compile-time interface checks.
var (
	_ pages.Client        = (*StubPagesClient)(nil)
	_ htmlfetch.Fetcher   = (*StubFetcher)(nil)
	_ schemagen.Generator = (*StubGenerator)(nil)
	_ schemaval.Validator = (*StubValidator)(nil)
)

// StubPagesClient implements pages.Client with canned responses. Offline runs
// use it to exercise the full state machine without a dashboard.
type StubPagesClient struct {
	// Existing marks (domain, path) pairs treated as already-present pages.
	Existing map[string]bool
}

func stubPageKey(domain, path string) string {
	return domain + "|" + path
}

// Upsert implements pages.Client.
func (s *StubPagesClient) Upsert(_ context.Context, req pages.UpsertRequest) (*pages.UpsertResponse, error) {
	id := fmt.Sprintf("stub-page-%s%s", req.Domain, req.Path)
	if s.Existing[stubPageKey(req.Domain, req.Path)] {
		if !req.Overwrite {
			return &pages.UpsertResponse{ID: id, Outcome: pages.OutcomeSkipped}, nil
		}
		return &pages.UpsertResponse{ID: id, Outcome: pages.OutcomeUpdated}, nil
	}
	return &pages.UpsertResponse{ID: id, Outcome: pages.OutcomeCreated}, nil
}

// StubFetcher implements htmlfetch.Fetcher with a minimal page body.
type StubFetcher struct{}

// Fetch implements htmlfetch.Fetcher.
func (s *StubFetcher) Fetch(_ context.Context, url string) (*htmlfetch.Result, error) {
	return &htmlfetch.Result{
		URL:        url,
		StatusCode: 200,
		HTML:       fmt.Sprintf("<html><head><title>stub</title></head><body>%s</body></html>", url),
		Title:      "stub",
	}, nil
}

// StubGenerator implements schemagen.Generator with a fixed WebPage document.
type StubGenerator struct{}

// Generate implements schemagen.Generator.
func (s *StubGenerator) Generate(_ context.Context, req schemagen.Request) (*schemagen.Result, error) {
	return &schemagen.Result{
		JSONLD: fmt.Sprintf(
			`{"@context":"https://schema.org","@type":"WebPage","name":"stub","url":"%s%s"}`,
			req.Domain, req.Path),
		Model:        "stub",
		InputTokens:  100,
		OutputTokens: 50,
	}, nil
}

// StubValidator implements schemaval.Validator and passes everything.
type StubValidator struct{}

// Validate implements schemaval.Validator.
func (s *StubValidator) Validate(context.Context, string) (*schemaval.Report, error) {
	return &schemaval.Report{}, nil
}
