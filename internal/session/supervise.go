package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/asheshgoplani/opsbridge/internal/chat"
	"github.com/asheshgoplani/opsbridge/internal/claude"
	"github.com/asheshgoplani/opsbridge/internal/logging"
)

var sessLog = logging.ForComponent(logging.CompSession)

// Proc is one live or finished subprocess invocation. *claude.Handle
// satisfies it; tests substitute fakes.
type Proc interface {
	Done() <-chan struct{}
	Result() claude.Result
	Alive() bool
	StartedAt() time.Time
	Kill() error
}

// Runner launches the three subprocess shapes. *claude.Launcher is
// adapted via NewRunner.
type Runner interface {
	RunOneShot(prompt string) (Proc, error)
	RunTurn(prompt, resumeToken string) (Proc, error)
	RunCompact(resumeToken string) (Proc, error)
}

type launcherRunner struct {
	l *claude.Launcher
}

// NewRunner adapts a claude.Launcher to the Runner contract.
func NewRunner(l *claude.Launcher) Runner {
	return launcherRunner{l: l}
}

func (r launcherRunner) RunOneShot(prompt string) (Proc, error) {
	h, err := r.l.RunOneShot(prompt)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (r launcherRunner) RunTurn(prompt, resumeToken string) (Proc, error) {
	h, err := r.l.RunTurn(prompt, resumeToken)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (r launcherRunner) RunCompact(resumeToken string) (Proc, error) {
	h, err := r.l.RunCompact(resumeToken)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// superviseProc awaits proc under heartbeat and timeout supervision.
// Each heartbeat tick rewrites the placeholder with an elapsed-time
// notice (failures swallowed). On timeout the process is killed and the
// final result still resolves through Done. Both timers are released
// unconditionally before returning.
func superviseProc(ctx context.Context, msgr chat.Messenger, proc Proc, channelID, placeholderID string, heartbeat, timeout time.Duration) (res claude.Result, timedOut bool) {
	tick := time.NewTicker(heartbeat)
	defer tick.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-proc.Done():
			return proc.Result(), timedOut

		case <-tick.C:
			if placeholderID == "" {
				continue
			}
			elapsed := time.Since(proc.StartedAt()).Round(time.Second)
			text := fmt.Sprintf("⏳ Still working... (%s elapsed)", elapsed)
			if err := msgr.UpdateMessage(ctx, channelID, placeholderID, text); err != nil {
				sessLog.Debug("heartbeat_update_failed", slog.String("error", err.Error()))
			}

		case <-deadline.C:
			timedOut = true
			if err := proc.Kill(); err != nil {
				sessLog.Warn("timeout_kill_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// postPlaceholder posts the initial working notice into the thread.
// Returns an empty id on failure; the final result is then posted fresh
// instead of updating.
func postPlaceholder(ctx context.Context, msgr chat.Messenger, channelID, threadID, text string) string {
	id, err := msgr.PostMessage(ctx, channelID, threadID, text)
	if err != nil {
		sessLog.Warn("placeholder_post_failed",
			slog.String("channel", channelID),
			slog.String("error", err.Error()))
		return ""
	}
	return id
}

// deliver writes the final text to the thread: the lead part replaces
// the placeholder (or is posted fresh when no placeholder exists), and
// overflow parts follow as threaded continuations. Delivery failures
// are logged and swallowed.
func deliver(ctx context.Context, msgr chat.Messenger, channelID, threadID, placeholderID, text string, limit int) {
	parts := splitResponse(text, limit)

	if placeholderID != "" {
		if err := msgr.UpdateMessage(ctx, channelID, placeholderID, parts[0]); err != nil {
			sessLog.Warn("result_update_failed", slog.String("error", err.Error()))
		}
	} else {
		if _, err := msgr.PostMessage(ctx, channelID, threadID, parts[0]); err != nil {
			sessLog.Warn("result_post_failed", slog.String("error", err.Error()))
		}
	}

	for _, part := range parts[1:] {
		if _, err := msgr.PostMessage(ctx, channelID, threadID, part); err != nil {
			sessLog.Warn("continuation_post_failed", slog.String("error", err.Error()))
		}
	}
}
