package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// maxErrorBody bounds how much of an error response body is read.
const maxErrorBody = 64 << 10

// StatusError is returned when an embedding endpoint answers with a non-2xx
// status. Rate limiting (429) and server errors (5xx) match
// [rag.ErrTransient] under errors.Is.
type StatusError struct {
	// Backend names the embedder that received the response.
	Backend string
	// Code is the HTTP status code.
	Code int
	// Message is the provider's error message, or the raw body prefix.
	Message string
	// RetryAfter is the delay requested by a Retry-After header, or zero.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s embedder: HTTP %d: %s", e.Backend, e.Code, e.Message)
}

// Is reports whether the status is worth retrying.
func (e *StatusError) Is(target error) bool {
	return target == rag.ErrTransient &&
		(e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError)
}

// RetryAfterDelay returns the server-requested delay before retrying.
func (e *StatusError) RetryAfterDelay() time.Duration {
	return e.RetryAfter
}

// parseRetryAfter reads a Retry-After value in delay-seconds or HTTP-date
// form. Unparseable or past values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// newStatusError reads the error body of resp and extracts a message from the
// common {"error": {"message": ...}} and {"error": "..."} shapes.
func newStatusError(backend string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	var flat struct {
		Error string `json:"error"`
	}
	switch {
	case json.Unmarshal(body, &nested) == nil && nested.Error.Message != "":
		msg = nested.Error.Message
	case json.Unmarshal(body, &flat) == nil && flat.Error != "":
		msg = flat.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return &StatusError{
		Backend:    backend,
		Code:       resp.StatusCode,
		Message:    msg,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// transportError marks a failed round trip as transient. Connection resets
// and client timeouts are retried by the caller.
func transportError(backend string, err error) error {
	return fmt.Errorf("%s embedder: request failed: %w: %w", backend, rag.ErrTransient, err)
}

// postJSON sends in as a JSON POST to url and decodes a 2xx response into
// out. Non-2xx responses become a *StatusError; transport failures are
// transient.
func postJSON(ctx context.Context, client *http.Client, backend, url string, header http.Header, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s embedder: marshal request: %w", backend, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s embedder: create request: %w", backend, err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return transportError(backend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(backend, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s embedder: decode response: %w", backend, err)
	}
	return nil
}
