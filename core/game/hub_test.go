package game

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningHub(t *testing.T) *LobbyHub {
	t.Helper()
	hub := NewLobbyHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func newHubClient(hub *LobbyHub, code string, userID int64, buffer int) *Client {
	return &Client{
		Hub:       hub,
		Send:      make(chan []byte, buffer),
		LobbyCode: code,
		UserID:    userID,
		Username:  fmt.Sprintf("player-%d", userID),
	}
}

// waitForClient blocks until the hub loop has made client the mapped
// connection for (code, userID).
func waitForClient(t *testing.T, hub *LobbyHub, code string, userID int64, client *Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.GetClient(code, userID) == client
	}, time.Second, 5*time.Millisecond)
}

func TestHubRegisterAndUnicast(t *testing.T) {
	hub := newRunningHub(t)

	client := newHubClient(hub, "111111", 1, 8)
	hub.Register(client)
	waitForClient(t, hub, "111111", 1, client)

	err := hub.SendToUser("111111", 1, &WSMessage{
		Type:      MsgTypeRoundEndedPersonal,
		LobbyCode: "111111",
	})
	require.NoError(t, err)

	select {
	case data := <-client.Send:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, MsgTypeRoundEndedPersonal, msg.Type)
		assert.NotZero(t, msg.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("unicast never arrived")
	}
}

func TestHubSendToUserNotConnected(t *testing.T) {
	hub := newRunningHub(t)

	err := hub.SendToUser("111111", 42, &WSMessage{Type: MsgTypePong})
	assert.Error(t, err)
}

func TestHubSupersedeKeepsNewConnection(t *testing.T) {
	hub := newRunningHub(t)

	first := newHubClient(hub, "222222", 7, 8)
	hub.Register(first)
	waitForClient(t, hub, "222222", 7, first)

	// A reconnect for the same user replaces the old socket.
	second := newHubClient(hub, "222222", 7, 8)
	hub.Register(second)
	waitForClient(t, hub, "222222", 7, second)

	_, open := <-first.Send
	assert.False(t, open, "superseded connection should have its send channel closed")
	assert.Equal(t, 1, hub.GetLobbyClientCount("222222"))

	// The old socket's read loop exits late and unregisters itself.
	// That must not disturb the replacement's mapping.
	hub.Unregister(first)

	sentinel := newHubClient(hub, "999999", 99, 8)
	hub.Register(sentinel)
	waitForClient(t, hub, "999999", 99, sentinel)

	require.Equal(t, second, hub.GetClient("222222", 7))
	require.NoError(t, hub.SendToUser("222222", 7, &WSMessage{
		Type:      MsgTypeRoundEndedPersonal,
		LobbyCode: "222222",
	}))

	select {
	case <-second.Send:
	case <-time.After(time.Second):
		t.Fatal("replacement connection stopped receiving unicasts")
	}
}

func TestHubBroadcastFanOut(t *testing.T) {
	hub := newRunningHub(t)

	a := newHubClient(hub, "333333", 1, 8)
	b := newHubClient(hub, "333333", 2, 8)
	c := newHubClient(hub, "333333", 3, 8)
	other := newHubClient(hub, "444444", 4, 8)
	for _, client := range []*Client{a, b, c, other} {
		hub.Register(client)
		waitForClient(t, hub, client.LobbyCode, client.UserID, client)
	}

	require.NoError(t, hub.BroadcastWSMessage("333333", &WSMessage{
		Type:      MsgTypePlayerGuessed,
		LobbyCode: "333333",
	}, 2))

	for _, client := range []*Client{a, c} {
		select {
		case data := <-client.Send:
			var msg WSMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			assert.Equal(t, MsgTypePlayerGuessed, msg.Type)
		case <-time.After(time.Second):
			t.Fatalf("user %d never received the broadcast", client.UserID)
		}
	}

	assert.Empty(t, b.Send, "excluded user should not receive the broadcast")
	assert.Empty(t, other.Send, "other lobby should not receive the broadcast")
}

func TestHubEvictsSlowConsumer(t *testing.T) {
	hub := newRunningHub(t)

	slow := newHubClient(hub, "555555", 1, 1)
	healthy := newHubClient(hub, "555555", 2, 8)
	hub.Register(slow)
	waitForClient(t, hub, "555555", 1, slow)
	hub.Register(healthy)
	waitForClient(t, hub, "555555", 2, healthy)

	// First broadcast fills the slow client's buffer, second overflows
	// it and gets the client evicted.
	hub.Broadcast("555555", []byte(`{"type":"round_started"}`), 0)
	hub.Broadcast("555555", []byte(`{"type":"round_transition"}`), 0)

	require.Eventually(t, func() bool {
		return hub.GetClient("555555", 1) == nil
	}, time.Second, 5*time.Millisecond, "slow consumer was not evicted")

	// The hub loop must still be serving after the eviction.
	late := newHubClient(hub, "666666", 3, 8)
	hub.Register(late)
	waitForClient(t, hub, "666666", 3, late)

	assert.Equal(t, 1, hub.GetLobbyClientCount("555555"))
	assert.Equal(t, healthy, hub.GetClient("555555", 2))

	// The evicted client drains its queued message and then sees the
	// channel closed.
	<-slow.Send
	_, open := <-slow.Send
	assert.False(t, open)
}

func TestHubUnregisterRemovesClient(t *testing.T) {
	hub := newRunningHub(t)

	client := newHubClient(hub, "777777", 5, 8)
	hub.Register(client)
	waitForClient(t, hub, "777777", 5, client)

	hub.Unregister(client)
	require.Eventually(t, func() bool {
		return hub.GetClient("777777", 5) == nil
	}, time.Second, 5*time.Millisecond)

	assert.Zero(t, hub.GetLobbyClientCount("777777"))
	assert.Empty(t, hub.GetLobbyClients("777777"))
}
