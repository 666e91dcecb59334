package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/opsbridge/internal/chat"
	"github.com/asheshgoplani/opsbridge/internal/config"
)

type fakeAcker struct {
	mu  sync.Mutex
	ids []string
}

func (a *fakeAcker) Ack(_ context.Context, identifier string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, identifier)
	return nil
}

func (a *fakeAcker) acked() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ids...)
}

func alertEvent(marker string) chat.Event {
	return chat.Event{
		Type:      "message",
		ChannelID: "C-ops",
		AuthorID:  "U-monitor",
		Text:      "[FIRING] db-backup-nightly",
		Marker:    marker,
		Permalink: "https://chat.example/p/" + marker,
	}
}

func newTestWorkflow(cfg config.SessionConfig, procs ...*fakeProc) (*WorkflowManager, *fakeRunner, *fakeMessenger, *fakeAcker) {
	runner := &fakeRunner{queue: procs}
	msgr := &fakeMessenger{}
	acker := &fakeAcker{}
	return NewWorkflowManager(cfg, msgr, runner, acker), runner, msgr, acker
}

func TestStartAlertRunsInvestigation(t *testing.T) {
	p := newFakeProc(okResult("root cause: disk full", ""))
	p.finish()
	wm, runner, msgr, acker := newTestWorkflow(testSessionConfig(), p)

	wm.StartAlert(context.Background(), alertEvent("1001"), "db-backup-nightly", false)

	require.Eventually(t, func() bool {
		return strings.Contains(msgr.lastUpdate(), "root cause: disk full")
	}, waitFor, tick)

	assert.Equal(t, []string{"db-backup-nightly"}, acker.acked())
	require.Equal(t, 1, runner.callCount())
	call := runner.call(0)
	assert.Equal(t, "oneshot", call.shape)
	assert.Contains(t, call.prompt, "db-backup-nightly")
	assert.Contains(t, call.prompt, "https://chat.example/p/1001")
	wm.Shutdown()
}

func TestDelayedAlertPrompt(t *testing.T) {
	p := newFakeProc(okResult("ok", ""))
	p.finish()
	wm, runner, _, _ := newTestWorkflow(testSessionConfig(), p)

	wm.StartAlert(context.Background(), alertEvent("1001"), "etl-hourly", true)
	require.Equal(t, 1, runner.callCount())
	assert.Contains(t, runner.call(0).prompt, "delayed alert")
	wm.Shutdown()
}

func TestDuplicateAlertSuppressed(t *testing.T) {
	p := newFakeProc(okResult("ok", ""))
	wm, runner, msgr, acker := newTestWorkflow(testSessionConfig(), p)

	wm.StartAlert(context.Background(), alertEvent("1001"), "db-backup-nightly", false)
	wm.StartAlert(context.Background(), alertEvent("1002"), "db-backup-nightly", false)

	assert.Equal(t, 1, msgr.postCount(), "second alert for the same identifier is dropped")
	assert.Equal(t, 1, runner.callCount())
	assert.Len(t, acker.acked(), 1)
	p.finish()
	wm.Shutdown()
}

func TestFeedbackReplyRunsFollowUp(t *testing.T) {
	p1 := newFakeProc(okResult("initial findings", ""))
	p1.finish()
	p2 := newFakeProc(okResult("checked the db, looks fine now", ""))
	p2.finish()
	wm, runner, msgr, _ := newTestWorkflow(testSessionConfig(), p1, p2)

	wm.StartAlert(context.Background(), alertEvent("1001"), "db-backup-nightly", false)
	require.Eventually(t, func() bool {
		return strings.Contains(msgr.lastUpdate(), "initial findings")
	}, waitFor, tick)

	consumed := wm.HandleReply(context.Background(), "1001", "what about the db?")
	require.True(t, consumed)
	require.Eventually(t, func() bool {
		return strings.Contains(msgr.lastUpdate(), "looks fine now")
	}, waitFor, tick)

	require.Equal(t, 2, runner.callCount())
	assert.Contains(t, runner.call(1).prompt, "what about the db?")
	wm.Shutdown()
}

func TestReplyMidRunGetsBusyNotice(t *testing.T) {
	p := newFakeProc(okResult("findings", ""))
	wm, runner, msgr, _ := newTestWorkflow(testSessionConfig(), p)

	wm.StartAlert(context.Background(), alertEvent("1001"), "db-backup-nightly", false)
	consumed := wm.HandleReply(context.Background(), "1001", "any news?")

	require.True(t, consumed)
	assert.True(t, msgr.postedContaining("Still investigating"))
	assert.Equal(t, 1, runner.callCount())
	p.finish()
	wm.Shutdown()
}

func TestReplyToUnknownWorkflow(t *testing.T) {
	wm, _, msgr, _ := newTestWorkflow(testSessionConfig())
	assert.False(t, wm.HandleReply(context.Background(), "T77", "hello"))
	assert.Zero(t, msgr.postCount())
}

func TestFeedbackWindowExpiry(t *testing.T) {
	cfg := testSessionConfig()
	cfg.FeedbackWindowSecs = 1

	p := newFakeProc(okResult("findings", ""))
	p.finish()
	wm, _, msgr, _ := newTestWorkflow(cfg, p)

	wm.StartAlert(context.Background(), alertEvent("1001"), "db-backup-nightly", false)
	require.Eventually(t, func() bool {
		return msgr.postedContaining("Investigation closed")
	}, 3*time.Second, tick)

	// Expired workflow no longer owns the conversation, and the same
	// identifier may fire again.
	assert.False(t, wm.HandleReply(context.Background(), "1001", "too late"))
}
