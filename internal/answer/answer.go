// Package answer synthesizes a grounded answer from retrieved chunks. It
// renders the answer prompt from the question and the evidence block, sends
// it to the completion capability as a single user turn, and returns the
// trimmed reply.
package answer

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbqa-go/internal/budget"
	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/rag"
)

const (
	// QuestionPlaceholder is replaced with the user's question.
	QuestionPlaceholder = "{{QUESTION}}"
	// EvidencePlaceholder is replaced with the evidence block.
	EvidencePlaceholder = "{{EVIDENCE}}"
)

//go:embed prompts/rag_answer.md
var defaultTemplate string

// DefaultTemplate returns the built-in answer prompt template.
func DefaultTemplate() string {
	return defaultTemplate
}

// LoadTemplate reads a prompt template from path. An empty path returns the
// built-in template. A template missing either placeholder is still accepted;
// the omission is only logged by the caller.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return defaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("answer: prompt template %s: %w", path, rag.ErrNotFound)
		}
		return "", fmt.Errorf("answer: reading prompt template %s: %w", path, err)
	}
	return string(data), nil
}

// Render substitutes every occurrence of the question and evidence
// placeholders in tpl. Substituted values are not re-scanned.
func Render(tpl, question, evidence string) string {
	return strings.NewReplacer(
		QuestionPlaceholder, question,
		EvidencePlaceholder, evidence,
	).Replace(tpl)
}

// Options configures a Synthesizer.
type Options struct {
	// Template is the prompt template. Empty uses the built-in template.
	Template string

	// MaxContextTokens is the prompt size above which a warning is logged.
	// Zero uses budget.DefaultMaxContextTokens.
	MaxContextTokens int
}

// Synthesizer turns a question plus retrieved evidence into an answer.
type Synthesizer struct {
	// completer performs the single completion call.
	completer rag.Completer

	// template is the prompt template with both placeholders.
	template string

	// maxTokens is the prompt budget used for the oversize warning.
	maxTokens int
}

// NewSynthesizer constructs a Synthesizer around the given completer.
func NewSynthesizer(completer rag.Completer, opts Options) (*Synthesizer, error) {
	if completer == nil {
		return nil, fmt.Errorf("answer: completer must not be nil")
	}
	tpl := opts.Template
	if tpl == "" {
		tpl = defaultTemplate
	}
	return &Synthesizer{completer: completer, template: tpl, maxTokens: opts.MaxContextTokens}, nil
}

// Prompt renders the full prompt for question and results.
func (s *Synthesizer) Prompt(question string, results []rag.RetrievedChunk) string {
	return Render(s.template, question, rag.BuildEvidenceBlock(results))
}

// Answer renders the prompt, makes exactly one completion call, and returns
// the reply with surrounding whitespace removed. The prompt is never
// truncated; an oversized prompt is only logged.
func (s *Synthesizer) Answer(ctx context.Context, question string, results []rag.RetrievedChunk) (string, error) {
	log := logging.FromContext(ctx)
	prompt := s.Prompt(question, results)

	if tokens, over := budget.Check([]*schema.Message{schema.UserMessage(prompt)}, s.maxTokens); over {
		log.Warn("answer: prompt exceeds context budget",
			slog.Int("estimated_tokens", tokens),
			slog.Int("max_tokens", s.budget()),
			slog.Int("evidence_chunks", len(results)),
		)
	}

	reply, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("answer: completion failed: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

func (s *Synthesizer) budget() int {
	if s.maxTokens <= 0 {
		return budget.DefaultMaxContextTokens
	}
	return s.maxTokens
}
