package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asheshgoplani/opsbridge/internal/chat"
	"github.com/asheshgoplani/opsbridge/internal/claude"
	"github.com/asheshgoplani/opsbridge/internal/config"
	"github.com/asheshgoplani/opsbridge/internal/store"
)

// User-facing notices. Kept as constants so tests can assert delivery
// without duplicating wording.
const (
	msgPlaceholder  = "⏳ Working on it..."
	msgStillWorking = "🤔 Still working on the previous message — I'll see this one when that's done."
	msgNoContext    = "⚠️ This thread has no saved context. Send `!exit` and mention me in a new message to start fresh."
	msgLaunchFailed = "❌ Couldn't start the assistant process. Send `!exit` and try again."
	msgClosed       = "👋 Session closed. Mention me in a new message to start another."

	msgCompacting       = "🗜️ Compacting conversation context..."
	msgCompactNoCtx     = "⚠️ Nothing to compact yet — this session has no saved context."
	msgCompactBusy      = "🤔 Still working on the previous message — try `!compact` again when that's done."
	msgCompactFailedFmt = "❌ Compact failed (exit %d). The session is unchanged — keep chatting, or send `!exit` to start fresh."
	msgCompactTimedOut  = "❌ Compact timed out. The session is unchanged — keep chatting, or send `!exit` to start fresh."
)

// Store is the persistence slice the manager needs for warm restarts.
// *store.DB satisfies it.
type Store interface {
	UpsertSession(row *store.SessionRow) error
	DeleteSession(conversationID string) error
	ListSessionsByKind(kind string) ([]*store.SessionRow, error)
}

// Manager is the session lifecycle controller. It implements
// chat.SessionOps for the router and the list/kill surface for the web
// layer. All operations are safe for concurrent use.
type Manager struct {
	cfg       config.SessionConfig
	botUserID string
	msgr      chat.Messenger
	runner    Runner
	db        Store
	reg       *Registry

	// turns tracks background turn goroutines so shutdown can await
	// them after killing their subprocesses.
	turns sync.WaitGroup
}

// NewManager wires the controller to its collaborators.
func NewManager(cfg config.SessionConfig, botUserID string, msgr chat.Messenger, runner Runner, db Store) *Manager {
	return &Manager{
		cfg:       cfg,
		botUserID: botUserID,
		msgr:      msgr,
		runner:    runner,
		db:        db,
		reg:       NewRegistry(),
	}
}

// Restore loads persisted chat sessions into the registry. Any
// subprocess is necessarily dead across a restart, so restored sessions
// come back idle with no process handle.
func (m *Manager) Restore() (int, error) {
	rows, err := m.db.ListSessionsByKind(KindChat)
	if err != nil {
		return 0, fmt.Errorf("restore sessions: %w", err)
	}
	n := 0
	for _, row := range rows {
		s := &Session{
			ConversationID: row.ConversationID,
			ChannelID:      row.ChannelID,
			Kind:           row.Kind,
			CreatedAt:      row.CreatedAt,
			state:          StateIdle,
			resumeToken:    row.ResumeToken,
			lastMarker:     row.LastMarker,
		}
		if m.reg.Insert(s) {
			n++
		}
	}
	if n > 0 {
		sessLog.Info("sessions_restored", slog.Int("count", n))
	}
	return n, nil
}

// Start creates a session for a new conversation and runs its first
// turn. A conversation id that is already tracked is a no-op, which
// absorbs duplicate event delivery.
func (m *Manager) Start(ctx context.Context, conversationID, channelID, text string) {
	s := &Session{
		ConversationID: conversationID,
		ChannelID:      channelID,
		Kind:           KindChat,
		CreatedAt:      time.Now(),
		state:          StateProcessing,
	}
	if !m.reg.Insert(s) {
		sessLog.Debug("start_duplicate", slog.String("conversation", conversationID))
		return
	}
	sessLog.Info("session_started",
		slog.String("conversation", conversationID),
		slog.String("channel", channelID))
	m.persist(s)
	m.dispatchTurn(ctx, s, text, "")
}

// Reply runs a follow-up turn on an existing session. Unknown
// conversations are ignored; a session mid-turn gets a still-working
// notice instead of a second subprocess.
func (m *Manager) Reply(ctx context.Context, conversationID, text string) {
	s := m.reg.Get(conversationID)
	if s == nil {
		return
	}
	if !s.beginTurn() {
		m.notify(ctx, s, msgStillWorking)
		return
	}
	token := s.token()
	if token == "" {
		s.endTurn("")
		m.notify(ctx, s, msgNoContext)
		return
	}
	m.dispatchTurn(ctx, s, m.catchUpPrompt(ctx, s, text), token)
}

// catchUpPrompt folds in any thread messages posted since the last
// observed marker, so messages sent while a turn was running are not
// lost. Falls back to the triggering text alone on fetch failure.
func (m *Manager) catchUpPrompt(ctx context.Context, s *Session, text string) string {
	msgs, err := m.msgr.FetchThreadMessages(ctx, s.ChannelID, s.ConversationID, s.marker())
	if err != nil {
		sessLog.Debug("thread_fetch_failed", slog.String("error", err.Error()))
		return text
	}
	var lines []string
	for _, msg := range msgs {
		if msg.AuthorID == m.botUserID || msg.Text == "" {
			continue
		}
		lines = append(lines, msg.Text)
	}
	if len(msgs) > 0 {
		s.setMarker(msgs[len(msgs)-1].Marker)
	}
	if len(lines) == 0 {
		return text
	}
	return strings.Join(lines, "\n")
}

// dispatchTurn posts the placeholder, launches a resumable turn, and
// supervises it in the background. The session must already be in the
// Processing state.
func (m *Manager) dispatchTurn(ctx context.Context, s *Session, prompt, resumeToken string) {
	placeholderID := postPlaceholder(ctx, m.msgr, s.ChannelID, s.ConversationID, msgPlaceholder)

	proc, err := m.runner.RunTurn(prompt, resumeToken)
	if err != nil {
		sessLog.Error("turn_launch_failed",
			slog.String("conversation", s.ConversationID),
			slog.String("error", err.Error()))
		s.endTurn("")
		deliver(ctx, m.msgr, s.ChannelID, s.ConversationID, placeholderID, msgLaunchFailed, m.cfg.ResponseSplitLength)
		return
	}
	s.setProc(proc)

	m.turns.Add(1)
	go func() {
		defer m.turns.Done()
		// Detached from the triggering event's context: cancellation of
		// turns happens through Kill, and delivery must outlive the
		// inbound handler.
		bctx := context.WithoutCancel(ctx)
		res, timedOut := superviseProc(bctx, m.msgr, proc, s.ChannelID, placeholderID, m.cfg.Heartbeat(), m.cfg.TurnTimeout())
		m.finishTurn(bctx, s, res, timedOut, placeholderID)
	}()
}

func (m *Manager) finishTurn(ctx context.Context, s *Session, res claude.Result, timedOut bool, placeholderID string) {
	text := m.turnOutcome(res, timedOut)

	newToken := ""
	if !timedOut && res.ResumeToken != "" {
		newToken = res.ResumeToken
	}
	s.endTurn(newToken)

	// The session may have been exited or killed while the turn was in
	// flight; its result is discarded rather than resurrected.
	if m.reg.Get(s.ConversationID) != s {
		sessLog.Debug("turn_result_discarded",
			slog.String("conversation", s.ConversationID))
		return
	}
	m.persist(s)

	sessLog.Info("turn_finished",
		slog.String("conversation", s.ConversationID),
		slog.Bool("timed_out", timedOut),
		slog.Bool("ok", res.OK()))

	deliver(ctx, m.msgr, s.ChannelID, s.ConversationID, placeholderID, text, m.cfg.ResponseSplitLength)
}

// turnOutcome maps a finished turn to its user-facing text. A timeout
// wins over any partial content the process streamed before the kill.
func (m *Manager) turnOutcome(res claude.Result, timedOut bool) string {
	switch {
	case timedOut:
		return fmt.Sprintf("⏱️ Timed out after %d minutes. Try a shorter request, or send `!exit` to start over.",
			int(m.cfg.TurnTimeout().Minutes()))
	case res.ExitCode == nil:
		return msgLaunchFailed
	case !res.OK():
		return fmt.Sprintf("❌ The assistant exited with code %d and no response. Send `!exit` and try again.", *res.ExitCode)
	default:
		return res.Response + formatFooter(res.Usage, res.CostUSD, res.NumTurns)
	}
}

// Compact runs the in-place context-reduction shape. Unknown
// conversations produce no outbound calls at all. Compacting has its
// own shorter ceiling and no heartbeat.
func (m *Manager) Compact(ctx context.Context, conversationID string) {
	s := m.reg.Get(conversationID)
	if s == nil {
		return
	}
	token, busy := s.beginCompact()
	if busy {
		m.notify(ctx, s, msgCompactBusy)
		return
	}
	if token == "" {
		m.notify(ctx, s, msgCompactNoCtx)
		return
	}

	placeholderID := postPlaceholder(ctx, m.msgr, s.ChannelID, s.ConversationID, msgCompacting)

	proc, err := m.runner.RunCompact(token)
	if err != nil {
		sessLog.Error("compact_launch_failed",
			slog.String("conversation", s.ConversationID),
			slog.String("error", err.Error()))
		s.endTurn("")
		deliver(ctx, m.msgr, s.ChannelID, s.ConversationID, placeholderID, msgLaunchFailed, m.cfg.ResponseSplitLength)
		return
	}
	s.setProc(proc)

	m.turns.Add(1)
	go func() {
		defer m.turns.Done()
		bctx := context.WithoutCancel(ctx)

		deadline := time.NewTimer(m.cfg.CompactTimeout())
		defer deadline.Stop()
		timedOut := false
		select {
		case <-proc.Done():
		case <-deadline.C:
			timedOut = true
			if err := proc.Kill(); err != nil {
				sessLog.Warn("compact_kill_failed", slog.String("error", err.Error()))
			}
			<-proc.Done()
		}

		res := proc.Result()
		// A failed compact leaves the session exactly as it was; the
		// resume token is only replaced on success.
		newToken := ""
		if !timedOut && res.OK() {
			newToken = res.ResumeToken
		}
		s.endTurn(newToken)

		var text string
		switch {
		case timedOut:
			text = msgCompactTimedOut
		case res.ExitCode == nil || *res.ExitCode != 0:
			code := -1
			if res.ExitCode != nil {
				code = *res.ExitCode
			}
			text = fmt.Sprintf(msgCompactFailedFmt, code)
		default:
			text = "🗜️ Context compacted."
			if res.Usage != nil {
				pct := float64(res.Usage.ContextTokens()) / contextWindow * 100
				text += fmt.Sprintf(" Now at %.1f%% of the window.", pct)
			}
		}

		sessLog.Info("compact_finished",
			slog.String("conversation", s.ConversationID),
			slog.Bool("timed_out", timedOut),
			slog.Bool("ok", res.OK()))
		deliver(bctx, m.msgr, s.ChannelID, s.ConversationID, placeholderID, text, m.cfg.ResponseSplitLength)
	}()
}

// Exit terminates any live subprocess, removes the session from the
// registry and from persistence, and posts a closing notice. Calling it
// again for the same conversation is a no-op.
func (m *Manager) Exit(ctx context.Context, conversationID string) {
	s := m.reg.Remove(conversationID)
	if s == nil {
		return
	}
	if err := s.kill(); err != nil {
		sessLog.Warn("exit_kill_failed",
			slog.String("conversation", conversationID),
			slog.String("error", err.Error()))
	}
	if err := m.db.DeleteSession(conversationID); err != nil {
		sessLog.Warn("exit_delete_failed",
			slog.String("conversation", conversationID),
			slog.String("error", err.Error()))
	}
	sessLog.Info("session_exited", slog.String("conversation", conversationID))
	m.notify(ctx, s, msgClosed)
}

// ListActive snapshots all tracked sessions, ordered by conversation id.
func (m *Manager) ListActive() []Info {
	sessions := m.reg.List()
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConversationID < infos[j].ConversationID
	})
	return infos
}

// KillOne terminates and forgets one session without posting anything.
// Returns false when the conversation is not tracked.
func (m *Manager) KillOne(conversationID string) bool {
	s := m.reg.Remove(conversationID)
	if s == nil {
		return false
	}
	if err := s.kill(); err != nil {
		sessLog.Warn("kill_failed",
			slog.String("conversation", conversationID),
			slog.String("error", err.Error()))
	}
	if err := m.db.DeleteSession(conversationID); err != nil {
		sessLog.Warn("kill_delete_failed",
			slog.String("conversation", conversationID),
			slog.String("error", err.Error()))
	}
	return true
}

// KillAll terminates every live subprocess and waits for their turn
// goroutines to drain. Sessions stay persisted so a restart can resume
// them. Kill failures are logged, never retried.
func (m *Manager) KillAll() {
	for _, s := range m.reg.List() {
		if err := s.kill(); err != nil {
			sessLog.Warn("shutdown_kill_failed",
				slog.String("conversation", s.ConversationID),
				slog.String("error", err.Error()))
		}
	}
	m.turns.Wait()
}

// notify posts a short threaded notice, best effort.
func (m *Manager) notify(ctx context.Context, s *Session, text string) {
	if _, err := m.msgr.PostMessage(ctx, s.ChannelID, s.ConversationID, text); err != nil {
		sessLog.Warn("notice_post_failed",
			slog.String("conversation", s.ConversationID),
			slog.String("error", err.Error()))
	}
}

func (m *Manager) persist(s *Session) {
	s.mu.Lock()
	row := &store.SessionRow{
		ConversationID: s.ConversationID,
		ChannelID:      s.ChannelID,
		Kind:           s.Kind,
		ResumeToken:    s.resumeToken,
		LastMarker:     s.lastMarker,
		CreatedAt:      s.CreatedAt,
	}
	s.mu.Unlock()
	if err := m.db.UpsertSession(row); err != nil {
		sessLog.Warn("persist_failed",
			slog.String("conversation", s.ConversationID),
			slog.String("error", err.Error()))
	}
}
