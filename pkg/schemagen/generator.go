// Package schemagen produces JSON-LD for a page by prompting Claude with the
// active generation rule and the page's live HTML.
package schemagen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultMaxTokens = 4096

// Request carries everything the generator needs for one page.
type Request struct {
	RuleBody string // resolved generation rule, used as the system prompt
	HTML     string
	Domain   string
	Path     string
	PageType string
	Category string
}

// Result is the generated schema plus token accounting.
type Result struct {
	JSONLD       string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Generator turns a page into JSON-LD.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Option configures the sdkGenerator.
type Option func(*sdkGenerator)

// WithMaxTokens overrides the response token cap.
func WithMaxTokens(n int64) Option {
	return func(g *sdkGenerator) {
		g.maxTokens = n
	}
}

type sdkGenerator struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// New creates a Claude-backed generator.
func New(apiKey, model string, opts ...Option) Generator {
	g := &sdkGenerator{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *sdkGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.RuleBody) == "" {
		return nil, eris.New("schemagen: empty rule body")
	}

	msg, err := g.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(g.model),
		MaxTokens: g.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: req.RuleBody},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(BuildPrompt(req))),
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "schemagen: generate for %s%s", req.Domain, req.Path)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	jsonld, err := ExtractJSON(text.String())
	if err != nil {
		return nil, eris.Wrapf(err, "schemagen: response for %s%s is not JSON", req.Domain, req.Path)
	}

	zap.L().Debug("schema generated",
		zap.String("domain", req.Domain),
		zap.String("path", req.Path),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))

	return &Result{
		JSONLD:       jsonld,
		Model:        g.model,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// BuildPrompt renders the user message for one page. The rule body carries
// the instructions; this carries the page identity and raw HTML.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s%s\n", req.Domain, req.Path)
	fmt.Fprintf(&b, "Page type: %s\n", req.PageType)
	if req.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", req.Category)
	}
	b.WriteString("\nHTML:\n")
	b.WriteString(req.HTML)
	b.WriteString("\n\nRespond with the JSON-LD object only.")
	return b.String()
}

// ExtractJSON pulls the JSON object out of a model response, tolerating
// markdown code fences and surrounding prose, and verifies it parses.
func ExtractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)

	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", eris.New("schemagen: no JSON object in response")
	}
	s = s[start:]

	var js json.RawMessage
	if err := json.Unmarshal([]byte(s), &js); err != nil {
		return "", eris.Wrap(err, "schemagen: parse response JSON")
	}
	return s, nil
}
