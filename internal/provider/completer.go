package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	ollamaapi "github.com/eino-contrib/ollama/api"
	openaiapi "github.com/meguminnnnnnnnn/go-openai"
	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"google.golang.org/genai"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// transientPhrases are lower-cased fragments of provider error messages
// that indicate a retryable failure when no typed status error is available.
var transientPhrases = []string{
	"rate limit",
	"too many requests",
	"server error",
	"overloaded",
	"timeout",
	"connection reset",
}

// transientStatusText matches a retryable status code only where the
// message presents it as one ("status code: 503", "HTTP 429", "code: 500").
var transientStatusText = regexp.MustCompile(`(?i)\b(?:status(?: code)?|http|code)[:= ]+(?:429|50[0234])\b`)

// ChatCompleter adapts an eino chat model to [rag.Completer].
type ChatCompleter struct {
	// model is the underlying chat model.
	model model.BaseChatModel
}

// NewChatCompleter wraps m.
func NewChatCompleter(m model.BaseChatModel) (*ChatCompleter, error) {
	if m == nil {
		return nil, fmt.Errorf("provider: chat model must not be nil")
	}
	return &ChatCompleter{model: m}, nil
}

// Complete sends prompt as a single user message and returns the reply text.
// Provider failures that look retryable are wrapped with [rag.ErrTransient].
func (c *ChatCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := c.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", classify(err)
	}
	if msg == nil {
		return "", fmt.Errorf("provider: model returned no message")
	}
	return msg.Content, nil
}

// classify wraps retryable provider errors with rag.ErrTransient. Typed
// status errors from the backend SDKs decide first; message matching is
// the fallback for errors that carry no status.
func classify(err error) error {
	if isTransient(err) {
		return fmt.Errorf("provider: completion failed: %w: %w", rag.ErrTransient, err)
	}
	return fmt.Errorf("provider: completion failed: %w", err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if code, ok := statusCode(err); ok {
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	lower := strings.ToLower(err.Error())
	for _, p := range transientPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return transientStatusText.MatchString(err.Error())
}

// statusCode extracts the HTTP status from the typed errors of the chat
// backends.
func statusCode(err error) (int, bool) {
	var (
		oaAPI  *openaiapi.APIError
		oaReq  *openaiapi.RequestError
		arkAPI *arkmodel.APIError
		arkReq *arkmodel.RequestError
		ollama ollamaapi.StatusError
		gemini genai.APIError
	)
	switch {
	case errors.As(err, &oaAPI) && oaAPI.HTTPStatusCode != 0:
		return oaAPI.HTTPStatusCode, true
	case errors.As(err, &oaReq) && oaReq.HTTPStatusCode != 0:
		return oaReq.HTTPStatusCode, true
	case errors.As(err, &arkAPI) && arkAPI.HTTPStatusCode != 0:
		return arkAPI.HTTPStatusCode, true
	case errors.As(err, &arkReq) && arkReq.HTTPStatusCode != 0:
		return arkReq.HTTPStatusCode, true
	case errors.As(err, &ollama) && ollama.StatusCode != 0:
		return ollama.StatusCode, true
	case errors.As(err, &gemini) && gemini.Code != 0:
		return gemini.Code, true
	}
	return 0, false
}
