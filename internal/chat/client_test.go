package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientOptions{
		BaseURL:  srv.URL,
		Token:    "test-token",
		PostRate: 1000, // don't throttle tests
	})
}

func TestPostMessage(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody postRequest

	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(apiResponse{OK: true, MessageID: "M100"})
	})

	id, err := c.PostMessage(context.Background(), "C1", "T1", "on it...")
	require.NoError(t, err)

	assert.Equal(t, "M100", id)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "/messages.post", gotPath)
	assert.Equal(t, postRequest{Channel: "C1", Thread: "T1", Text: "on it..."}, gotBody)
}

func TestPostMessageAPIError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{OK: false, Error: "channel_not_found"})
	})

	_, err := c.PostMessage(context.Background(), "C404", "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestUpdateMessage(t *testing.T) {
	var gotBody updateRequest
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages.update", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(apiResponse{OK: true})
	})

	err := c.UpdateMessage(context.Background(), "C1", "M100", "done")
	require.NoError(t, err)
	assert.Equal(t, updateRequest{Channel: "C1", MessageID: "M100", Text: "done"}, gotBody)
}

func TestFetchThreadMessages(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages.thread", r.URL.Path)
		assert.Equal(t, "C1", r.URL.Query().Get("channel"))
		assert.Equal(t, "T1", r.URL.Query().Get("thread"))
		assert.Equal(t, "99.1", r.URL.Query().Get("since"))
		json.NewEncoder(w).Encode(apiResponse{OK: true, Messages: []Message{
			{AuthorID: "U1", Text: "first", Marker: "99.2"},
			{AuthorID: "U2", Text: "second", Marker: "99.3"},
		}})
	})

	msgs, err := c.FetchThreadMessages(context.Background(), "C1", "T1", "99.1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "99.3", msgs[1].Marker)
}

func TestConversationID(t *testing.T) {
	assert.Equal(t, "T1", Event{ThreadID: "T1", Marker: "M9"}.ConversationID())
	assert.Equal(t, "M9", Event{Marker: "M9"}.ConversationID())
}
