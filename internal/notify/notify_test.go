package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vestd/internal/domain"
)

func TestTelegramAndDiscordPayloads(t *testing.T) {
	var got []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		body["path"] = r.URL.Path
		got = append(got, body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tg := NewTelegramSender("tok", "42")
	tg.baseURL = srv.URL
	dc := NewDiscordSender(srv.URL + "/hook")

	n := NewNotifier([]Sender{tg, dc}, []string{"amount_claimed"}, nil)
	ev := domain.Event{Type: domain.EventAmountClaimed, Data: map[string]any{"position_id": 1, "amount": "250"}}
	require.NoError(t, n.NotifyEvent(context.Background(), ev))

	require.Len(t, got, 2)
	assert.Equal(t, "/bottok/sendMessage", got[0]["path"])
	assert.Equal(t, "42", got[0]["chat_id"])
	assert.Equal(t, "*Amount Claimed*\namount: 250\nposition_id: 1", got[0]["text"])
	assert.Equal(t, "**Amount Claimed**\namount: 250\nposition_id: 1", got[1]["content"])

	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Type: domain.EventPaused}))
	assert.Len(t, got, 2)
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier([]Sender{NewDiscordSender(srv.URL)}, nil, nil)
	err := n.Notify(context.Background(), "paused", "Paused", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 502")
}
