package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSessionOps struct {
	started   []string
	replied   []string
	compacted []string
	exited    []string
	lastText  string
}

func (f *fakeSessionOps) Start(_ context.Context, id, _, text string) {
	f.started = append(f.started, id)
	f.lastText = text
}
func (f *fakeSessionOps) Reply(_ context.Context, id, text string) {
	f.replied = append(f.replied, id)
	f.lastText = text
}
func (f *fakeSessionOps) Compact(_ context.Context, id string) { f.compacted = append(f.compacted, id) }
func (f *fakeSessionOps) Exit(_ context.Context, id string)    { f.exited = append(f.exited, id) }

type fakeWorkflowOps struct {
	alerts   []string
	delayed  []bool
	consumes bool
	replies  []string
}

func (f *fakeWorkflowOps) StartAlert(_ context.Context, _ Event, id string, delayed bool) {
	f.alerts = append(f.alerts, id)
	f.delayed = append(f.delayed, delayed)
}
func (f *fakeWorkflowOps) HandleReply(_ context.Context, id, _ string) bool {
	f.replies = append(f.replies, id)
	return f.consumes
}

func newTestRouter() (*Router, *fakeSessionOps, *fakeWorkflowOps) {
	s := &fakeSessionOps{}
	w := &fakeWorkflowOps{}
	return NewRouter("BOT1", s, w), s, w
}

func TestRouterIgnoresOwnMessages(t *testing.T) {
	r, s, w := newTestRouter()
	r.Handle(context.Background(), Event{Type: "message", AuthorID: "BOT1", Text: "<@BOT1> hi", Marker: "1.0"})
	assert.Empty(t, s.started)
	assert.Empty(t, w.alerts)
}

func TestRouterStartsOnMention(t *testing.T) {
	r, s, _ := newTestRouter()
	r.Handle(context.Background(), Event{
		Type: "message", AuthorID: "U1", ChannelID: "C1",
		Text: "<@BOT1> investigate the deploy", Marker: "1.0",
	})
	assert.Equal(t, []string{"1.0"}, s.started)
	assert.Equal(t, "investigate the deploy", s.lastText)
}

func TestRouterIgnoresUnmentionedTopLevel(t *testing.T) {
	r, s, w := newTestRouter()
	r.Handle(context.Background(), Event{Type: "message", AuthorID: "U1", Text: "just chatting", Marker: "1.0"})
	assert.Empty(t, s.started)
	assert.Empty(t, w.alerts)
}

func TestRouterDetectsAlerts(t *testing.T) {
	r, s, w := newTestRouter()
	r.Handle(context.Background(), Event{
		Type: "message", AuthorID: "UMON", ChannelID: "C1",
		Text: "ALERT: nightly-etl failed", Marker: "2.0",
	})
	assert.Equal(t, []string{"nightly-etl"}, w.alerts)
	assert.Equal(t, []bool{false}, w.delayed)
	assert.Empty(t, s.started)

	r.Handle(context.Background(), Event{
		Type: "message", AuthorID: "UMON", ChannelID: "C1",
		Text: "DELAY: billing-export", Marker: "3.0",
	})
	assert.Equal(t, []bool{false, true}, w.delayed)
}

func TestRouterThreadReplyGoesToSession(t *testing.T) {
	r, s, _ := newTestRouter()
	r.Handle(context.Background(), Event{
		Type: "message", AuthorID: "U1", ThreadID: "T1",
		Text: "and check the logs too", Marker: "4.1",
	})
	assert.Equal(t, []string{"T1"}, s.replied)
}

func TestRouterWorkflowConsumesReplyFirst(t *testing.T) {
	r, s, w := newTestRouter()
	w.consumes = true
	r.Handle(context.Background(), Event{
		Type: "message", AuthorID: "U1", ThreadID: "T1",
		Text: "follow that lead", Marker: "4.2",
	})
	assert.Equal(t, []string{"T1"}, w.replies)
	assert.Empty(t, s.replied)
}

func TestRouterCommands(t *testing.T) {
	r, s, _ := newTestRouter()
	r.Handle(context.Background(), Event{Type: "message", AuthorID: "U1", ThreadID: "T1", Text: "!exit", Marker: "5.0"})
	r.Handle(context.Background(), Event{Type: "message", AuthorID: "U1", ThreadID: "T1", Text: " <@BOT1> !compact ", Marker: "5.1"})
	assert.Equal(t, []string{"T1"}, s.exited)
	assert.Equal(t, []string{"T1"}, s.compacted)
	assert.Empty(t, s.replied)
}
