package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	ollamaapi "github.com/eino-contrib/ollama/api"
	openaiapi "github.com/meguminnnnnnnnn/go-openai"
	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"google.golang.org/genai"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// fakeChatModel records the messages it receives and returns a canned reply.
type fakeChatModel struct {
	got   []*schema.Message
	reply *schema.Message
	err   error
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = input
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("not implemented")
}

func TestChatCompleter_SingleUserTurn(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: schema.AssistantMessage("  the answer \n", nil)}
	c, err := NewChatCompleter(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Complete(context.Background(), "prompt text")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "  the answer \n" {
		t.Errorf("Complete returned %q; trimming belongs to the caller", got)
	}
	if len(m.got) != 1 || m.got[0].Role != schema.User || m.got[0].Content != "prompt text" {
		t.Errorf("unexpected messages sent: %+v", m.got)
	}
}

func TestChatCompleter_ErrorClassification(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err       error
		transient bool
	}{
		{errors.New("error, status code: 429, message: Rate limit reached"), true},
		{errors.New("status code: 503, service unavailable"), true},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{errors.New("status code: 401, invalid api key"), false},
		{errors.New("model not found"), false},
		{errors.New("max_tokens must be at most 1500"), false},
		{errors.New("context window is 4096 tokens, prompt has 5040"), false},
		{errors.New("HTTP 502 from upstream"), true},
		{fmt.Errorf("failed to create chat completion: %w", &openaiapi.APIError{HTTPStatusCode: 500, Message: "boom"}), true},
		{fmt.Errorf("failed to create chat completion: %w", &openaiapi.APIError{HTTPStatusCode: 400, Message: "max_tokens 1500 too large"}), false},
		{fmt.Errorf("error during Chat request: %w", ollamaapi.StatusError{StatusCode: 503, Status: "503 Service Unavailable"}), true},
		{fmt.Errorf("error during Chat request: %w", ollamaapi.StatusError{StatusCode: 404, ErrorMessage: "model timeout-test not found"}), false},
		{fmt.Errorf("generate: %w", genai.APIError{Code: 429, Message: "quota"}), true},
		{fmt.Errorf("ark: %w", &arkmodel.APIError{HTTPStatusCode: 504}), true},
		{fmt.Errorf("ark: %w", &arkmodel.RequestError{HTTPStatusCode: 401, Err: errors.New("denied")}), false},
	}
	for _, tc := range cases {
		c, _ := NewChatCompleter(&fakeChatModel{err: tc.err})
		_, err := c.Complete(context.Background(), "p")
		if got := errors.Is(err, rag.ErrTransient); got != tc.transient {
			t.Errorf("%v: transient = %v, want %v", tc.err, got, tc.transient)
		}
		if !errors.Is(err, tc.err) {
			t.Errorf("%v: original error not preserved in %v", tc.err, err)
		}
	}
}

func TestChatCompleter_NilModel(t *testing.T) {
	t.Parallel()
	if _, err := NewChatCompleter(nil); err == nil {
		t.Error("expected error for nil model")
	}
}
