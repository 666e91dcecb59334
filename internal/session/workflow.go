package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asheshgoplani/opsbridge/internal/chat"
	"github.com/asheshgoplani/opsbridge/internal/config"
	"github.com/asheshgoplani/opsbridge/internal/logging"
)

var wfLog = logging.ForComponent(logging.CompWorkflow)

const (
	msgInvestigating = "🔎 Investigating..."
	msgWindowClosed  = "✅ Investigation closed — no feedback within the window."
	msgWfBusy        = "🤔 Still investigating — I'll pick your note up when this pass finishes."
)

// Acker acknowledges an alert against the paging service. *pager.Client
// satisfies it.
type Acker interface {
	Ack(ctx context.Context, identifier string) error
}

// workflow is one active investigative run: a fire-and-forget
// subprocess plus a feedback window instead of an explicit exit.
type workflow struct {
	runID          string
	conversationID string
	channelID      string
	identifier     string
	delayed        bool

	running bool
	proc    Proc
	timer   *time.Timer
	// gen invalidates stale feedback-timer callbacks after a reply
	// re-arms the window.
	gen int
}

// WorkflowManager starts and tracks alert investigations. It implements
// chat.WorkflowOps for the router.
type WorkflowManager struct {
	cfg    config.SessionConfig
	msgr   chat.Messenger
	runner Runner
	acker  Acker

	mu      sync.Mutex
	active  map[string]*workflow // by conversation id
	byIdent map[string]string    // alert identifier -> conversation id

	runs sync.WaitGroup
}

// NewWorkflowManager wires the workflow controller to its collaborators.
func NewWorkflowManager(cfg config.SessionConfig, msgr chat.Messenger, runner Runner, acker Acker) *WorkflowManager {
	return &WorkflowManager{
		cfg:     cfg,
		msgr:    msgr,
		runner:  runner,
		acker:   acker,
		active:  make(map[string]*workflow),
		byIdent: make(map[string]string),
	}
}

// StartAlert begins an investigation for a matched alert message. A
// second alert for the same identifier while one is active is dropped.
func (wm *WorkflowManager) StartAlert(ctx context.Context, ev chat.Event, identifier string, delayed bool) {
	convID := ev.ConversationID()

	wm.mu.Lock()
	if existing, ok := wm.byIdent[identifier]; ok {
		wm.mu.Unlock()
		wfLog.Info("alert_duplicate_suppressed",
			slog.String("identifier", identifier),
			slog.String("active_conversation", existing))
		return
	}
	w := &workflow{
		runID:          uuid.NewString(),
		conversationID: convID,
		channelID:      ev.ChannelID,
		identifier:     identifier,
		delayed:        delayed,
		running:        true,
	}
	wm.active[convID] = w
	wm.byIdent[identifier] = convID
	wm.mu.Unlock()

	wfLog.Info("alert_workflow_started",
		slog.String("run_id", w.runID),
		slog.String("identifier", identifier),
		slog.Bool("delayed", delayed))

	if err := wm.acker.Ack(ctx, identifier); err != nil {
		wfLog.Warn("alert_ack_failed",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()))
	}

	wm.dispatch(ctx, w, alertPrompt(ev, identifier, delayed))
}

// HandleReply offers a thread reply to an active workflow. A reply
// inside the feedback window cancels the timer and runs a follow-up
// pass; replies mid-run get a busy notice. Returns false when no
// workflow owns the conversation.
func (wm *WorkflowManager) HandleReply(ctx context.Context, conversationID, text string) bool {
	wm.mu.Lock()
	w, ok := wm.active[conversationID]
	if !ok {
		wm.mu.Unlock()
		return false
	}
	if w.running {
		wm.mu.Unlock()
		if _, err := wm.msgr.PostMessage(ctx, w.channelID, w.conversationID, msgWfBusy); err != nil {
			wfLog.Warn("busy_notice_failed", slog.String("error", err.Error()))
		}
		return true
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.running = true
	w.gen++
	wm.mu.Unlock()

	wfLog.Info("workflow_followup",
		slog.String("run_id", w.runID),
		slog.String("identifier", w.identifier))
	wm.dispatch(ctx, w, followUpPrompt(w.identifier, text))
	return true
}

// dispatch posts the placeholder, launches a one-shot run, and
// supervises it in the background. The workflow must already be marked
// running.
func (wm *WorkflowManager) dispatch(ctx context.Context, w *workflow, prompt string) {
	placeholderID := postPlaceholder(ctx, wm.msgr, w.channelID, w.conversationID, msgInvestigating)

	proc, err := wm.runner.RunOneShot(prompt)
	if err != nil {
		wfLog.Error("workflow_launch_failed",
			slog.String("identifier", w.identifier),
			slog.String("error", err.Error()))
		deliver(ctx, wm.msgr, w.channelID, w.conversationID, placeholderID, msgLaunchFailed, wm.cfg.ResponseSplitLength)
		wm.finishRun(w, nil)
		return
	}

	wm.mu.Lock()
	w.proc = proc
	wm.mu.Unlock()

	wm.runs.Add(1)
	go func() {
		defer wm.runs.Done()
		bctx := context.WithoutCancel(ctx)
		res, timedOut := superviseProc(bctx, wm.msgr, proc, w.channelID, placeholderID, wm.cfg.Heartbeat(), wm.cfg.TurnTimeout())

		var text string
		switch {
		case timedOut:
			text = fmt.Sprintf("⏱️ Investigation timed out after %d minutes.", int(wm.cfg.TurnTimeout().Minutes()))
		case res.ExitCode == nil:
			text = msgLaunchFailed
		case !res.OK():
			text = fmt.Sprintf("❌ Investigation failed (exit %d).", *res.ExitCode)
		default:
			text = res.Response + formatFooter(res.Usage, res.CostUSD, res.NumTurns)
		}
		deliver(bctx, wm.msgr, w.channelID, w.conversationID, placeholderID, text, wm.cfg.ResponseSplitLength)

		wm.finishRun(w, bctx)
	}()
}

// finishRun clears the run state and arms the feedback window. A nil
// ctx (launch failure path) still arms the window so the operator can
// retry by replying.
func (wm *WorkflowManager) finishRun(w *workflow, ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	wm.mu.Lock()
	w.running = false
	w.proc = nil
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(wm.cfg.FeedbackWindow(), func() {
		wm.expire(ctx, w, gen)
	})
	wm.mu.Unlock()
}

// expire closes a workflow whose feedback window elapsed with no reply.
// The generation check discards callbacks that lost a race with a
// re-arming reply.
func (wm *WorkflowManager) expire(ctx context.Context, w *workflow, gen int) {
	wm.mu.Lock()
	if wm.active[w.conversationID] != w || w.gen != gen || w.running {
		wm.mu.Unlock()
		return
	}
	delete(wm.active, w.conversationID)
	delete(wm.byIdent, w.identifier)
	proc := w.proc
	wm.mu.Unlock()

	if proc != nil {
		if err := proc.Kill(); err != nil {
			wfLog.Warn("expire_kill_failed", slog.String("error", err.Error()))
		}
	}
	wfLog.Info("workflow_expired",
		slog.String("run_id", w.runID),
		slog.String("identifier", w.identifier))
	if _, err := wm.msgr.PostMessage(ctx, w.channelID, w.conversationID, msgWindowClosed); err != nil {
		wfLog.Warn("close_notice_failed", slog.String("error", err.Error()))
	}
}

// Shutdown kills every live run and waits for supervision goroutines.
func (wm *WorkflowManager) Shutdown() {
	wm.mu.Lock()
	for _, w := range wm.active {
		if w.timer != nil {
			w.timer.Stop()
		}
		if w.proc != nil {
			if err := w.proc.Kill(); err != nil {
				wfLog.Warn("shutdown_kill_failed",
					slog.String("identifier", w.identifier),
					slog.String("error", err.Error()))
			}
		}
	}
	wm.mu.Unlock()
	wm.runs.Wait()
}

func alertPrompt(ev chat.Event, identifier string, delayed bool) string {
	kind := "alert"
	if delayed {
		kind = "delayed alert"
	}
	prompt := fmt.Sprintf("Use the incident investigation skill to investigate the %s %q.", kind, identifier)
	if ev.Permalink != "" {
		prompt += fmt.Sprintf("\nTriggering message: %s", ev.Permalink)
	}
	if ev.Text != "" {
		prompt += "\n\n" + ev.Text
	}
	return prompt
}

func followUpPrompt(identifier, text string) string {
	return fmt.Sprintf("Follow-up on the investigation of %q:\n\n%s", identifier, text)
}
