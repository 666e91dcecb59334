package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/asheshgoplani/opsbridge/internal/monitor"
)

// SessionOps is the slice of the session lifecycle controller the router
// drives. All operations are no-ops on unknown conversations.
type SessionOps interface {
	Start(ctx context.Context, conversationID, channelID, text string)
	Reply(ctx context.Context, conversationID, text string)
	Compact(ctx context.Context, conversationID string)
	Exit(ctx context.Context, conversationID string)
}

// WorkflowOps is the alert-workflow side of routing.
type WorkflowOps interface {
	// StartAlert begins an investigative workflow for a matched alert.
	StartAlert(ctx context.Context, ev Event, identifier string, delayed bool)

	// HandleReply offers a thread reply to an active workflow's feedback
	// window. Returns true when a workflow consumed it.
	HandleReply(ctx context.Context, conversationID, text string) bool
}

// Router turns inbound events into lifecycle and workflow operations.
type Router struct {
	botUserID string
	sessions  SessionOps
	workflows WorkflowOps
}

// NewRouter wires the router to its collaborators.
func NewRouter(botUserID string, sessions SessionOps, workflows WorkflowOps) *Router {
	return &Router{botUserID: botUserID, sessions: sessions, workflows: workflows}
}

// Handle routes one event. Safe to call from the event client's read loop.
func (r *Router) Handle(ctx context.Context, ev Event) {
	if ev.Type != "message" || ev.AuthorID == r.botUserID || ev.Text == "" {
		return
	}

	if ev.ThreadID == "" {
		r.handleTopLevel(ctx, ev)
		return
	}
	r.handleThreadReply(ctx, ev)
}

func (r *Router) handleTopLevel(ctx context.Context, ev Event) {
	if det := monitor.Detect(ev.Text); det.Kind != monitor.KindNone {
		chatLog.Info("alert_detected",
			slog.String("identifier", det.Identifier),
			slog.Bool("delayed", det.Kind == monitor.KindDelayedAlert))
		r.workflows.StartAlert(ctx, ev, det.Identifier, det.Kind == monitor.KindDelayedAlert)
		return
	}

	text, mentioned := r.stripMention(ev.Text)
	if !mentioned {
		return
	}
	r.sessions.Start(ctx, ev.ConversationID(), ev.ChannelID, text)
}

func (r *Router) handleThreadReply(ctx context.Context, ev Event) {
	text, _ := r.stripMention(ev.Text)

	if r.workflows.HandleReply(ctx, ev.ConversationID(), text) {
		return
	}

	switch strings.TrimSpace(text) {
	case "!exit":
		r.sessions.Exit(ctx, ev.ConversationID())
	case "!compact":
		r.sessions.Compact(ctx, ev.ConversationID())
	default:
		r.sessions.Reply(ctx, ev.ConversationID(), text)
	}
}

// stripMention removes a leading bot mention and reports whether one was
// present anywhere in the text.
func (r *Router) stripMention(text string) (string, bool) {
	mention := "<@" + r.botUserID + ">"
	if !strings.Contains(text, mention) {
		return text, false
	}
	return strings.TrimSpace(strings.Replace(text, mention, "", 1)), true
}
