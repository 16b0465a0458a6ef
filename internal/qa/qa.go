// Package qa answers questions against a loaded knowledge-base index. A
// question is embedded and matched against the index; when the best match
// falls below the confidence threshold the service refuses with a fixed
// payload, otherwise it synthesizes an answer and attaches citations.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/rag"
	"github.com/54b3r/kbqa-go/internal/store"
)

const (
	// DefaultTopK is the default number of chunks retrieved per question.
	DefaultTopK = 5
	// DefaultThreshold is the default refusal threshold.
	DefaultThreshold = 0.35

	// RefusalAnswer is the fixed answer text of a refusal.
	RefusalAnswer = "The knowledge base does not cover this question or the answer cannot be confirmed."
)

// NeedMoreInfo lists the hints returned with every refusal.
var NeedMoreInfo = []string{
	"Provide more specific keywords or terms",
	"Name the relevant document or section",
	"Provide a time range, version, or background",
}

// Synthesizer produces an answer from a question and its evidence.
// [answer.Synthesizer] satisfies it.
type Synthesizer interface {
	Answer(ctx context.Context, question string, results []rag.RetrievedChunk) (string, error)
}

// Recorder persists a summary of every ask. [store.SQLiteStore] satisfies it.
type Recorder interface {
	Record(ctx context.Context, e store.Entry) error
}

// Request is one question.
type Request struct {
	// Question is the question text. Must not be blank.
	Question string `json:"question"`

	// TopK is the number of chunks to retrieve. Zero uses the service default;
	// other values below 1 are coerced to 1.
	TopK int `json:"topk,omitempty"`

	// Threshold overrides the refusal threshold when non-nil.
	Threshold *float64 `json:"threshold,omitempty"`
}

// Result is the answer or refusal payload. Field order matches the JSON
// printed by `kbqa ask`.
type Result struct {
	Question     string         `json:"question"`
	Refused      bool           `json:"refused"`
	Answer       string         `json:"answer"`
	NeedMoreInfo []string       `json:"need_more_info,omitempty"`
	TopScore     *float64       `json:"top_score,omitempty"`
	Threshold    *float64       `json:"threshold,omitempty"`
	Citations    []rag.Citation `json:"citations"`
}

// Options configures a Service.
type Options struct {
	// TopK is the default retrieval depth. Zero uses DefaultTopK.
	TopK int

	// Threshold is the default refusal threshold.
	Threshold float64

	// PreviewLen is the citation preview length. Zero uses rag.DefaultPreviewLen.
	PreviewLen int

	// Source labels ask log entries ("cli" or "http").
	Source string

	// Recorder receives one entry per ask. May be nil.
	Recorder Recorder
}

// Service answers questions. It is safe for concurrent use when its
// retriever, synthesizer and recorder are.
type Service struct {
	retriever   *rag.Retriever
	synthesizer Synthesizer
	opts        Options
}

// NewService constructs a Service.
func NewService(retriever *rag.Retriever, synthesizer Synthesizer, opts Options) (*Service, error) {
	if retriever == nil {
		return nil, fmt.Errorf("qa: retriever must not be nil")
	}
	if synthesizer == nil {
		return nil, fmt.Errorf("qa: synthesizer must not be nil")
	}
	if opts.TopK == 0 {
		opts.TopK = DefaultTopK
	}
	if opts.PreviewLen <= 0 {
		opts.PreviewLen = rag.DefaultPreviewLen
	}
	return &Service{retriever: retriever, synthesizer: synthesizer, opts: opts}, nil
}

// Refusal returns the refusal payload for question.
func Refusal(question string) *Result {
	return &Result{
		Question:     question,
		Refused:      true,
		Answer:       RefusalAnswer,
		NeedMoreInfo: append([]string(nil), NeedMoreInfo...),
		Citations:    []rag.Citation{},
	}
}

// Ask retrieves evidence for req.Question, applies the refusal policy and,
// when the evidence is strong enough, synthesizes an answer. A refusal never
// calls the completion capability.
func (s *Service) Ask(ctx context.Context, req Request) (*Result, error) {
	log := logging.FromContext(ctx)
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("qa: question must not be blank: %w", rag.ErrInvalidArgument)
	}
	topK := req.TopK
	if topK == 0 {
		topK = s.opts.TopK
	}
	threshold := s.opts.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	results, err := s.retriever.Retrieve(ctx, req.Question, topK)
	if err != nil {
		return nil, fmt.Errorf("qa: %w", err)
	}

	var res *Result
	if rag.ShouldRefuse(results, threshold) {
		res = Refusal(req.Question)
	} else {
		answer, err := s.synthesizer.Answer(ctx, req.Question, results)
		if err != nil {
			return nil, fmt.Errorf("qa: %w", err)
		}
		top := results[0].Score
		res = &Result{
			Question:  req.Question,
			Answer:    answer,
			TopScore:  &top,
			Threshold: &threshold,
			Citations: rag.FormatCitations(results, s.opts.PreviewLen),
		}
	}

	attrs := []any{
		slog.Bool("refused", res.Refused),
		slog.Int("retrieved", len(results)),
		slog.Float64("threshold", threshold),
	}
	if len(results) > 0 {
		attrs = append(attrs, slog.Float64("top_score", results[0].Score))
	}
	log.Info("qa: question handled", attrs...)

	s.record(ctx, res, results)
	return res, nil
}

// record appends res to the ask log. Failures are logged, never returned.
func (s *Service) record(ctx context.Context, res *Result, results []rag.RetrievedChunk) {
	if s.opts.Recorder == nil {
		return
	}
	e := store.Entry{
		Question:  res.Question,
		Refused:   res.Refused,
		Answer:    res.Answer,
		Citations: len(res.Citations),
		Source:    s.opts.Source,
	}
	if len(results) > 0 {
		top := results[0].Score
		e.TopScore = &top
	}
	if err := s.opts.Recorder.Record(ctx, e); err != nil {
		logging.FromContext(ctx).Warn("qa: failed to record ask", slog.String("error", err.Error()))
	}
}
