// Package audit writes structured audit records for kbqa command invocations.
// A record names the command, the config file in effect, the resolved flag
// values and the relevant environment, and a closing record reports the
// outcome and duration. Secrets are logged as presence/absence only.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	// key is the environment variable name.
	key string
	// secret indicates the value should be redacted to presence/absence.
	secret bool
}

// auditKeys is the ordered list of env vars included in every start record.
var auditKeys = []auditEntry{
	{"MODEL_PROVIDER", false},
	{"OPENAI_MODEL", false},
	{"OPENAI_API_KEY", true},
	{"OPENAI_BASE_URL", false},
	{"AZURE_OPENAI_API_KEY", true},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"AZURE_OPENAI_DEPLOYMENT", false},
	{"OLLAMA_HOST", false},
	{"OLLAMA_MODEL", false},
	{"GOOGLE_API_KEY", true},
	{"GEMINI_MODEL", false},
	{"ARK_API_KEY", true},
	{"ARK_MODEL", false},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"EMBEDDING_API_KEY", true},
	{"QDRANT_HOST", false},
	{"QDRANT_COLLECTION", false},
	{"QDRANT_API_KEY", true},
	{"KBQA_API_KEY", true},
	{"KBQA_BACKEND", false},
	{"KBQA_HISTORY_DB", false},
	{"KBQA_PROMPT_PATH", false},
	{"KBQA_MAX_RETRIES", false},
	{"KBQA_CALL_TIMEOUT", false},
	{"LOG_LEVEL", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
}

// secretEnvKeys is derived from auditKeys so the two never drift.
var secretEnvKeys = func() map[string]bool {
	m := make(map[string]bool)
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	return m
}()

// LogCommandStart emits the start record for command. attrs carries the
// resolved flag values (index dir, topk, ...) and is appended verbatim, so
// callers must not pass secrets in it.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string, attrs ...slog.Attr) {
	all := make([]slog.Attr, 0, 2+len(attrs)+len(auditKeys))
	all = append(all,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	all = append(all, attrs...)

	env := make([]any, 0, len(auditKeys))
	for _, entry := range auditKeys {
		env = append(env, slog.String(entry.key, SanitiseKey(entry.key, os.Getenv(entry.key))))
	}
	all = append(all, slog.Group("env", env...))

	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", all...)
}

// LogCommandEnd emits the closing record for command with its duration and
// outcome. A non-nil err is logged at error level.
func LogCommandEnd(ctx context.Context, log *slog.Logger, command string, started time.Time, err error) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.Duration("duration", time.Since(started)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("outcome", "error"), slog.String("error", err.Error()))
		log.LogAttrs(ctx, slog.LevelError, "audit: command end", attrs...)
		return
	}
	attrs = append(attrs, slog.String("outcome", "ok"))
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command end", attrs...)
}

// SanitiseKey returns "set" or "unset" for known secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	return valOrUnset(value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path with the home directory
// abbreviated, or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
