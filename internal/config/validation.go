package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns ValidationErrors, or nil.
func (c Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		add("log_level", "%v", err)
	}

	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.MaxFrameBytes <= 0 {
		add("server.max_frame_bytes", "must be positive, got %d", c.Server.MaxFrameBytes)
	}
	if c.Server.WriteTimeout <= 0 {
		add("server.write_timeout", "must be positive, got %s", c.Server.WriteTimeout)
	}

	if u, err := url.Parse(c.Client.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		add("client.url", "must be a ws:// or wss:// URL, got %q", c.Client.URL)
	}
	if c.Client.HeartbeatInterval < 0 {
		add("client.heartbeat_interval", "must not be negative")
	}
	if c.Client.Staleness < 0 {
		add("client.staleness", "must not be negative")
	}
	if c.Client.Staleness > 0 && c.Client.HeartbeatInterval >= c.Client.Staleness {
		add("client.heartbeat_interval", "must be shorter than staleness (%s)", c.Client.Staleness)
	}
	if c.Client.NoticeLimit <= 0 {
		add("client.notice_limit", "must be positive, got %d", c.Client.NoticeLimit)
	}
	if c.Client.NoticeTimeout <= 0 {
		add("client.notice_timeout", "must be positive")
	}

	s := c.Supervisor
	if s.FailureThreshold <= 0 {
		add("supervisor.failure_threshold", "must be positive, got %d", s.FailureThreshold)
	}
	if s.BaseDelay <= 0 {
		add("supervisor.base_delay", "must be positive")
	}
	if s.MaxDelay < s.BaseDelay {
		add("supervisor.max_delay", "must not be below base_delay (%s)", s.BaseDelay)
	}
	if s.CoolDown <= 0 {
		add("supervisor.cool_down", "must be positive")
	}
	if s.Multiplier < 1 {
		add("supervisor.multiplier", "must be at least 1, got %g", s.Multiplier)
	}
	if s.Jitter < 0 || s.Jitter >= 1 {
		add("supervisor.jitter", "must be in [0, 1), got %g", s.Jitter)
	}
	if s.DialTimeout <= 0 {
		add("supervisor.dial_timeout", "must be positive")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ParseLevel maps a log level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}
