package presence

import (
	"context"
	"testing"
	"time"

	"github.com/aurora-mmo/social-server/cache/local"
	"github.com/aurora-mmo/social-server/social/friend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker(t *testing.T, ttl time.Duration) (*Tracker, *friend.Store) {
	t.Helper()
	c, err := local.NewCache(local.Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	logger := zap.NewNop()
	return NewTracker(c, ttl, logger), friend.NewStore(c, logger)
}

func TestSetOnline(t *testing.T) {
	tr, _ := newTestTracker(t, 0)
	ctx := context.Background()

	require.NoError(t, tr.SetOnline(ctx, "alice", "farming"))

	status, err := tr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, status.IsOnline)
	assert.Equal(t, "farming", status.StatusMessage)
	require.NotNil(t, status.LastSeen)
}

func TestSetOnlineRefreshesTTL(t *testing.T) {
	tr, _ := newTestTracker(t, 40*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, tr.SetOnline(ctx, "alice", ""))
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, tr.SetOnline(ctx, "alice", ""))
	time.Sleep(25 * time.Millisecond)

	// The first marker would have expired by now; the refresh reset it.
	status, err := tr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, status.IsOnline)
}

func TestTTLExpiryMeansOffline(t *testing.T) {
	tr, _ := newTestTracker(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, tr.SetOnline(ctx, "alice", "brb"))
	before := time.Now()
	time.Sleep(40 * time.Millisecond)

	status, err := tr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, status.IsOnline)
	require.NotNil(t, status.LastSeen)
	assert.False(t, status.LastSeen.After(before), "lastSeen must be at or before expiry")

	expired, err := tr.IsExpired(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestSetOffline(t *testing.T) {
	tr, _ := newTestTracker(t, 0)
	ctx := context.Background()

	require.NoError(t, tr.SetOnline(ctx, "alice", ""))
	onlineSeen, _ := tr.LastSeen(ctx, "alice")

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, tr.SetOffline(ctx, "alice"))

	status, err := tr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, status.IsOnline)
	require.NotNil(t, status.LastSeen)
	assert.True(t, status.LastSeen.After(*onlineSeen), "lastSeen moves forward on the offline transition")
}

func TestSetOfflineIdempotent(t *testing.T) {
	tr, _ := newTestTracker(t, 0)
	ctx := context.Background()
	require.NoError(t, tr.SetOffline(ctx, "ghost"))
	require.NoError(t, tr.SetOffline(ctx, "ghost"))
}

func TestStatusNeverSeen(t *testing.T) {
	tr, _ := newTestTracker(t, 0)

	status, err := tr.Status(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, status.IsOnline)
	assert.Nil(t, status.LastSeen)
	assert.Equal(t, "nobody", status.CharacterID)
}

func TestMultiStatus(t *testing.T) {
	tr, _ := newTestTracker(t, 0)
	ctx := context.Background()

	_ = tr.SetOnline(ctx, "alice", "")
	_ = tr.SetOffline(ctx, "bob")

	statuses, err := tr.MultiStatus(ctx, []string{"alice", "bob", "carol"})
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.True(t, statuses[0].IsOnline)
	assert.False(t, statuses[1].IsOnline)
	assert.NotNil(t, statuses[1].LastSeen)
	assert.False(t, statuses[2].IsOnline)
	assert.Nil(t, statuses[2].LastSeen)
}

func TestUpdateStatusMessagePromotesOffline(t *testing.T) {
	tr, _ := newTestTracker(t, 0)
	ctx := context.Background()

	require.NoError(t, tr.UpdateStatusMessage(ctx, "alice", "hello"))

	status, err := tr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, status.IsOnline)
	assert.Equal(t, "hello", status.StatusMessage)
}

func TestUpdateStatusMessageWhileOnline(t *testing.T) {
	tr, _ := newTestTracker(t, 40*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, tr.SetOnline(ctx, "alice", "old"))
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, tr.UpdateStatusMessage(ctx, "alice", "new"))
	time.Sleep(25 * time.Millisecond)

	// Update refreshed the TTL; still online with the new message.
	status, err := tr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, status.IsOnline)
	assert.Equal(t, "new", status.StatusMessage)
}

func TestOnlineOfflineFriends(t *testing.T) {
	tr, friends := newTestTracker(t, 0)
	ctx := context.Background()

	_, _ = friends.Add(ctx, "alice", "bob", "Bob", nil)
	_, _ = friends.Add(ctx, "alice", "carol", "Carol", nil)
	_, _ = friends.Add(ctx, "alice", "dave", "Dave", nil)

	_ = tr.SetOnline(ctx, "bob", "raiding")
	_ = tr.SetOffline(ctx, "carol")
	// dave has never been seen
	// a stranger being online must not leak into alice's view
	_ = tr.SetOnline(ctx, "mallory", "")

	online, err := tr.OnlineFriends(ctx, "alice", friends)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "bob", online[0].Friend.FriendID)
	assert.True(t, online[0].IsOnline)
	assert.Equal(t, "raiding", online[0].StatusMessage)

	offline, err := tr.OfflineFriends(ctx, "alice", friends)
	require.NoError(t, err)
	require.Len(t, offline, 2)
	for _, fs := range offline {
		assert.False(t, fs.IsOnline)
		switch fs.Friend.FriendID {
		case "carol":
			assert.NotNil(t, fs.LastSeen)
		case "dave":
			assert.Nil(t, fs.LastSeen)
		default:
			t.Fatalf("unexpected friend %q", fs.Friend.FriendID)
		}
	}
}

func TestOnlineFriendsEmptyList(t *testing.T) {
	tr, friends := newTestTracker(t, 0)

	online, err := tr.OnlineFriends(context.Background(), "loner", friends)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestLastSeenMissing(t *testing.T) {
	tr, _ := newTestTracker(t, 0)
	ts, err := tr.LastSeen(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestClear(t *testing.T) {
	tr, _ := newTestTracker(t, 0)
	ctx := context.Background()

	_ = tr.SetOnline(ctx, "alice", "")
	require.NoError(t, tr.Clear(ctx, "alice"))

	status, err := tr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, status.IsOnline)
	assert.Nil(t, status.LastSeen)
}

func TestOnlineUsers(t *testing.T) {
	tr, _ := newTestTracker(t, 0)
	ctx := context.Background()

	require.NoError(t, tr.SetOnline(ctx, "bob", "mining"))
	require.NoError(t, tr.SetOnline(ctx, "alice", "afk"))
	require.NoError(t, tr.SetOnline(ctx, "carol", ""))
	require.NoError(t, tr.SetOffline(ctx, "carol"))

	users, err := tr.OnlineUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].CharacterID)
	assert.Equal(t, "afk", users[0].StatusMessage)
	assert.Equal(t, "bob", users[1].CharacterID)
}

func TestOnlineUsersEmpty(t *testing.T) {
	tr, _ := newTestTracker(t, 0)
	users, err := tr.OnlineUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestOnlineUsersPrunesExpired(t *testing.T) {
	tr, _ := newTestTracker(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, tr.SetOnline(ctx, "alice", ""))
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, tr.SetOnline(ctx, "bob", ""))

	users, err := tr.OnlineUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].CharacterID)
}

func TestOnlineUsersAfterClear(t *testing.T) {
	tr, _ := newTestTracker(t, 0)
	ctx := context.Background()

	require.NoError(t, tr.SetOnline(ctx, "alice", ""))
	require.NoError(t, tr.Clear(ctx, "alice"))

	users, err := tr.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}
