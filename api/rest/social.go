package rest

import (
	"net/http"

	mw "github.com/aurora-mmo/social-server/middleware"
	"github.com/aurora-mmo/social-server/social"
	"github.com/gin-gonic/gin"
)

// SocialHandler exposes the social graph facade over REST. Validation
// failures surfaced as booleans by the core map to 4xx responses here;
// storage errors map to 500.
type SocialHandler struct {
	system *social.System
}

// NewSocialHandler creates a new SocialHandler.
func NewSocialHandler(system *social.System) *SocialHandler {
	return &SocialHandler{system: system}
}

// ListFriends handles GET /api/social/friends.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	charID := mw.GetCharacterID(c)

	friends, err := h.system.FriendsWithStatus(c.Request.Context(), charID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// SearchFriends handles GET /api/social/friends/search?q=keyword.
func (h *SocialHandler) SearchFriends(c *gin.Context) {
	charID := mw.GetCharacterID(c)

	friends, err := h.system.Friends.Search(c.Request.Context(), charID, c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// OnlineFriends handles GET /api/social/friends/online.
func (h *SocialHandler) OnlineFriends(c *gin.Context) {
	charID := mw.GetCharacterID(c)

	friends, err := h.system.Presence.OnlineFriends(c.Request.Context(), charID, h.system.Friends)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// OfflineFriends handles GET /api/social/friends/offline.
func (h *SocialHandler) OfflineFriends(c *gin.Context) {
	charID := mw.GetCharacterID(c)

	friends, err := h.system.Presence.OfflineFriends(c.Request.Context(), charID, h.system.Friends)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// RemoveFriend handles DELETE /api/social/friends/:id.
func (h *SocialHandler) RemoveFriend(c *gin.Context) {
	charID := mw.GetCharacterID(c)
	friendID := c.Param("id")

	ok, err := h.system.RemoveFriend(c.Request.Context(), charID, friendID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not friends"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "removed"})
}

// ListRequests handles GET /api/social/requests (received, oldest first).
func (h *SocialHandler) ListRequests(c *gin.Context) {
	charID := mw.GetCharacterID(c)

	requests, err := h.system.Requests.Inbox(c.Request.Context(), charID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// ListSentRequests handles GET /api/social/requests/sent.
func (h *SocialHandler) ListSentRequests(c *gin.Context) {
	charID := mw.GetCharacterID(c)

	requests, err := h.system.Requests.Outbox(c.Request.Context(), charID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// SendRequest handles POST /api/social/requests.
func (h *SocialHandler) SendRequest(c *gin.Context) {
	charID := mw.GetCharacterID(c)
	charName := mw.GetCharacterName(c)

	var req struct {
		ToCharacterID string `json:"to_character_id" binding:"required"`
		Message       string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.system.SendFriendRequest(c.Request.Context(), charID, charName, req.ToCharacterID, req.Message)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "request not allowed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "request sent"})
}

// AcceptRequest handles POST /api/social/requests/:id/accept, where :id is
// the sender's character id.
func (h *SocialHandler) AcceptRequest(c *gin.Context) {
	charID := mw.GetCharacterID(c)
	charName := mw.GetCharacterName(c)
	fromID := c.Param("id")

	ok, err := h.system.AcceptFriendRequest(c.Request.Context(), charID, fromID, charName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "accepted"})
}

// RejectRequest handles POST /api/social/requests/:id/reject.
func (h *SocialHandler) RejectRequest(c *gin.Context) {
	charID := mw.GetCharacterID(c)
	fromID := c.Param("id")

	ok, err := h.system.RejectFriendRequest(c.Request.Context(), charID, fromID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rejected"})
}

// CancelRequest handles DELETE /api/social/requests/:id, where :id is the
// recipient of the request being withdrawn.
func (h *SocialHandler) CancelRequest(c *gin.Context) {
	charID := mw.GetCharacterID(c)
	toID := c.Param("id")

	ok, err := h.system.CancelFriendRequest(c.Request.Context(), charID, toID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancelled"})
}

// SetOnline handles POST /api/social/presence/online.
func (h *SocialHandler) SetOnline(c *gin.Context) {
	charID := mw.GetCharacterID(c)

	var req struct {
		StatusMessage string `json:"status_message"`
	}
	_ = c.ShouldBindJSON(&req) // body is optional

	if err := h.system.CharacterOnline(c.Request.Context(), charID, req.StatusMessage); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "online"})
}

// SetOffline handles POST /api/social/presence/offline.
func (h *SocialHandler) SetOffline(c *gin.Context) {
	charID := mw.GetCharacterID(c)

	if err := h.system.CharacterOffline(c.Request.Context(), charID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "offline"})
}

// UpdateStatusMessage handles PUT /api/social/presence/message. Calling it
// while offline brings the character online.
func (h *SocialHandler) UpdateStatusMessage(c *gin.Context) {
	charID := mw.GetCharacterID(c)

	var req struct {
		StatusMessage string `json:"status_message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.system.UpdateStatusMessage(c.Request.Context(), charID, req.StatusMessage); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

// OnlineCharacters handles GET /api/social/online.
func (h *SocialHandler) OnlineCharacters(c *gin.Context) {
	users, err := h.system.OnlineCharacters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": users})
}

// SystemStats handles GET /api/social/stats.
func (h *SocialHandler) SystemStats(c *gin.Context) {
	stats, err := h.system.SystemStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetStatus handles GET /api/social/presence/:id.
func (h *SocialHandler) GetStatus(c *gin.Context) {
	status, err := h.system.Presence.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, status)
}
