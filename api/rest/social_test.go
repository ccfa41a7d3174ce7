package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aurora-mmo/social-server/config"
	"github.com/aurora-mmo/social-server/middleware"
	"github.com/aurora-mmo/social-server/social"
	"github.com/aurora-mmo/social-server/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-jwt-secret-32bytes-padded!!"

func setupRouter(t *testing.T) (*gin.Engine, *social.System) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c, ps := testutil.SetupTestCache(t)
	system := social.NewSystem(c, ps, social.Config{}, zap.NewNop())

	h := NewSocialHandler(system)
	r := gin.New()
	api := r.Group("/api/social", middleware.Auth(config.SecurityConfig{JWTSecret: testSecret}))
	{
		api.GET("/friends", h.ListFriends)
		api.GET("/friends/search", h.SearchFriends)
		api.GET("/friends/online", h.OnlineFriends)
		api.GET("/friends/offline", h.OfflineFriends)
		api.DELETE("/friends/:id", h.RemoveFriend)
		api.GET("/requests", h.ListRequests)
		api.GET("/requests/sent", h.ListSentRequests)
		api.POST("/requests", h.SendRequest)
		api.POST("/requests/:id/accept", h.AcceptRequest)
		api.POST("/requests/:id/reject", h.RejectRequest)
		api.DELETE("/requests/:id", h.CancelRequest)
		api.POST("/presence/online", h.SetOnline)
		api.POST("/presence/offline", h.SetOffline)
		api.PUT("/presence/message", h.UpdateStatusMessage)
		api.GET("/presence/:id", h.GetStatus)
		api.GET("/online", h.OnlineCharacters)
		api.GET("/stats", h.SystemStats)
	}
	return r, system
}

func authToken(t *testing.T, characterID, characterName string) string {
	t.Helper()
	tok, err := middleware.GenerateToken(characterID, characterName, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	r, _ := setupRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/social/friends", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSendRequest(t *testing.T) {
	r, _ := setupRouter(t)
	alice := authToken(t, "alice", "Alice")

	w := doJSON(t, r, http.MethodPost, "/api/social/requests", alice,
		gin.H{"to_character_id": "bob", "message": "hi"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSendRequestMissingBody(t *testing.T) {
	r, _ := setupRouter(t)
	alice := authToken(t, "alice", "Alice")

	w := doJSON(t, r, http.MethodPost, "/api/social/requests", alice, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendRequestToSelf(t *testing.T) {
	r, _ := setupRouter(t)
	alice := authToken(t, "alice", "Alice")

	w := doJSON(t, r, http.MethodPost, "/api/social/requests", alice,
		gin.H{"to_character_id": "alice"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	r, _ := setupRouter(t)
	alice := authToken(t, "alice", "Alice")
	bob := authToken(t, "bob", "Bob")

	w := doJSON(t, r, http.MethodPost, "/api/social/requests", alice,
		gin.H{"to_character_id": "bob", "message": "quest together?"})
	require.Equal(t, http.StatusCreated, w.Code)

	// Bob sees it in his inbox.
	w = doJSON(t, r, http.MethodGet, "/api/social/requests", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var inbox struct {
		Requests []struct {
			FromCharacterID string `json:"fromCharacterId"`
			Message         string `json:"message"`
		} `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inbox))
	require.Len(t, inbox.Requests, 1)
	assert.Equal(t, "alice", inbox.Requests[0].FromCharacterID)
	assert.Equal(t, "quest together?", inbox.Requests[0].Message)

	// Alice sees it in her outbox.
	w = doJSON(t, r, http.MethodGet, "/api/social/requests/sent", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Bob accepts.
	w = doJSON(t, r, http.MethodPost, "/api/social/requests/alice/accept", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Both sides now list each other.
	w = doJSON(t, r, http.MethodGet, "/api/social/friends", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var friends struct {
		Friends []struct {
			FriendID string `json:"friendId"`
			Name     string `json:"name"`
		} `json:"friends"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &friends))
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, "bob", friends.Friends[0].FriendID)
	assert.Equal(t, "Bob", friends.Friends[0].Name)

	w = doJSON(t, r, http.MethodGet, "/api/social/friends", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Sending to an existing friend is rejected.
	w = doJSON(t, r, http.MethodPost, "/api/social/requests", alice,
		gin.H{"to_character_id": "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Removal tears down both sides.
	w = doJSON(t, r, http.MethodDelete, "/api/social/friends/bob", alice, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodDelete, "/api/social/friends/alice", bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAcceptMissingRequest(t *testing.T) {
	r, _ := setupRouter(t)
	bob := authToken(t, "bob", "Bob")

	w := doJSON(t, r, http.MethodPost, "/api/social/requests/ghost/accept", bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRejectRequest(t *testing.T) {
	r, _ := setupRouter(t)
	alice := authToken(t, "alice", "Alice")
	bob := authToken(t, "bob", "Bob")

	w := doJSON(t, r, http.MethodPost, "/api/social/requests", alice,
		gin.H{"to_character_id": "bob"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/social/requests/alice/reject", bob, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/social/friends", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"friends":[]}`, w.Body.String())
}

func TestCancelRequest(t *testing.T) {
	r, _ := setupRouter(t)
	alice := authToken(t, "alice", "Alice")

	w := doJSON(t, r, http.MethodPost, "/api/social/requests", alice,
		gin.H{"to_character_id": "bob"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/social/requests/bob", alice, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/social/requests/bob", alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchFriends(t *testing.T) {
	r, system := setupRouter(t)
	alice := authToken(t, "alice", "Alice")

	ctx := context.Background()
	_, err := system.Friends.Add(ctx, "alice", "bob", "Bobby", nil)
	require.NoError(t, err)
	_, err = system.Friends.Add(ctx, "alice", "carol", "Carol", nil)
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodGet, "/api/social/friends/search?q=bob", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Friends []struct {
			FriendID string `json:"friendId"`
		} `json:"friends"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Friends, 1)
	assert.Equal(t, "bob", resp.Friends[0].FriendID)
}

func TestPresenceOverHTTP(t *testing.T) {
	r, _ := setupRouter(t)
	alice := authToken(t, "alice", "Alice")
	bob := authToken(t, "bob", "Bob")

	w := doJSON(t, r, http.MethodPost, "/api/social/presence/online", alice,
		gin.H{"status_message": "in town"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/social/presence/alice", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		CharacterID   string `json:"characterId"`
		IsOnline      bool   `json:"isOnline"`
		StatusMessage string `json:"statusMessage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "alice", status.CharacterID)
	assert.True(t, status.IsOnline)
	assert.Equal(t, "in town", status.StatusMessage)

	w = doJSON(t, r, http.MethodPost, "/api/social/presence/offline", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/social/presence/alice", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.IsOnline)
}

func TestUpdateStatusMessageOverHTTP(t *testing.T) {
	r, _ := setupRouter(t)
	alice := authToken(t, "alice", "Alice")

	// Updating while offline brings the character online.
	w := doJSON(t, r, http.MethodPut, "/api/social/presence/message", alice,
		gin.H{"status_message": "raiding"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/social/presence/alice", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		IsOnline      bool   `json:"isOnline"`
		StatusMessage string `json:"statusMessage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.IsOnline)
	assert.Equal(t, "raiding", status.StatusMessage)
}

func TestOnlineRosterOverHTTP(t *testing.T) {
	r, system := setupRouter(t)
	alice := authToken(t, "alice", "Alice")

	ctx := context.Background()
	require.NoError(t, system.CharacterOnline(ctx, "bob", "mining"))
	require.NoError(t, system.CharacterOnline(ctx, "carol", ""))
	require.NoError(t, system.CharacterOffline(ctx, "carol"))

	w := doJSON(t, r, http.MethodGet, "/api/social/online", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var roster struct {
		Online []struct {
			CharacterID   string `json:"characterId"`
			StatusMessage string `json:"statusMessage"`
		} `json:"online"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roster))
	require.Len(t, roster.Online, 1)
	assert.Equal(t, "bob", roster.Online[0].CharacterID)
	assert.Equal(t, "mining", roster.Online[0].StatusMessage)

	w = doJSON(t, r, http.MethodGet, "/api/social/stats", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		OnlineCount        int      `json:"onlineCount"`
		OnlineCharacterIDs []string `json:"onlineCharacterIds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.OnlineCount)
	assert.Equal(t, []string{"bob"}, stats.OnlineCharacterIDs)
}

func TestOnlineFriendsOverHTTP(t *testing.T) {
	r, system := setupRouter(t)
	alice := authToken(t, "alice", "Alice")

	ctx := context.Background()
	_, err := system.Friends.Add(ctx, "alice", "bob", "Bob", nil)
	require.NoError(t, err)
	_, err = system.Friends.Add(ctx, "alice", "carol", "Carol", nil)
	require.NoError(t, err)
	require.NoError(t, system.CharacterOnline(ctx, "bob", "afk"))

	w := doJSON(t, r, http.MethodGet, "/api/social/friends/online", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Friends []struct {
			FriendID string `json:"friendId"`
		} `json:"friends"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Friends, 1)
	assert.Equal(t, "bob", resp.Friends[0].FriendID)

	w = doJSON(t, r, http.MethodGet, "/api/social/friends/offline", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Friends, 1)
	assert.Equal(t, "carol", resp.Friends[0].FriendID)
}
