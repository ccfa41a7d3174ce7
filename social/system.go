// Package social composes the friend ledger, the request workflow and the
// presence tracker into the single API the transport layer consumes. Rules
// that span components (a request cannot target an existing friend, a
// removal tears down both directed records) live here, not in the parts.
package social

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aurora-mmo/social-server/cache"
	"github.com/aurora-mmo/social-server/social/friend"
	"github.com/aurora-mmo/social-server/social/presence"
	"github.com/aurora-mmo/social-server/social/request"
	"go.uber.org/zap"
)

// PresenceChannel carries PresenceEvent payloads for gateways that push
// online/offline transitions to connected clients.
const PresenceChannel = "social:presence"

// PresenceEvent is published whenever a character's presence changes.
type PresenceEvent struct {
	CharacterID   string    `json:"characterId"`
	IsOnline      bool      `json:"isOnline"`
	StatusMessage string    `json:"statusMessage,omitempty"`
	At            time.Time `json:"at"`
}

// Config holds the tunables of the social system.
type Config struct {
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`
	// ReconcileWindow bounds how long a character stays in the
	// recently-active set that the background reconciliation pass visits.
	ReconcileWindow time.Duration `mapstructure:"reconcile_window"`
}

// System is the social graph facade. Construct it once at process start
// with the key-value client injected and pass it to handlers; there is no
// package-level instance.
type System struct {
	Friends  *friend.Store
	Requests *request.Workflow
	Presence *presence.Tracker

	pubsub cache.PubSub
	logger *zap.Logger
	window time.Duration

	mu     sync.Mutex
	active map[string]time.Time // character id → last request activity
}

// NewSystem wires the three components over one cache client. pubsub may be
// nil when no gateway consumes presence events.
func NewSystem(c cache.Cache, ps cache.PubSub, cfg Config, logger *zap.Logger) *System {
	window := cfg.ReconcileWindow
	if window <= 0 {
		window = time.Hour
	}
	return &System{
		Friends:  friend.NewStore(c, logger),
		Requests: request.NewWorkflow(c, logger),
		Presence: presence.NewTracker(c, cfg.PresenceTTL, logger),
		pubsub:   ps,
		logger:   logger,
		window:   window,
		active:   make(map[string]time.Time),
	}
}

// ---- Requests ----

// SendFriendRequest validates and sends a friend request. It rejects
// self-requests and requests to an existing friend. A reverse-direction
// pending request (to→from) does not block it: either side may then accept
// the other's request to resolve the pair.
func (s *System) SendFriendRequest(ctx context.Context, fromID, fromName, toID, message string) (bool, error) {
	if fromID == toID {
		return false, nil
	}
	already, err := s.Friends.IsFriend(ctx, fromID, toID)
	if err != nil {
		return false, err
	}
	if already {
		return false, nil
	}
	ok, err := s.Requests.Send(ctx, fromID, fromName, toID, message)
	if ok {
		s.markActive(fromID, toID)
	}
	return ok, err
}

// AcceptFriendRequest resolves the request toID received from fromID and
// creates the symmetric friendship. toName is the acceptor's display name.
func (s *System) AcceptFriendRequest(ctx context.Context, toID, fromID, toName string) (bool, error) {
	ok, err := s.Requests.Accept(ctx, toID, fromID, toName, s.Friends)
	if ok {
		s.markActive(fromID, toID)
	}
	return ok, err
}

// RejectFriendRequest declines the request toID received from fromID.
func (s *System) RejectFriendRequest(ctx context.Context, toID, fromID string) (bool, error) {
	ok, err := s.Requests.Reject(ctx, toID, fromID)
	if ok {
		s.markActive(fromID, toID)
	}
	return ok, err
}

// CancelFriendRequest withdraws the request fromID sent to toID.
func (s *System) CancelFriendRequest(ctx context.Context, fromID, toID string) (bool, error) {
	ok, err := s.Requests.Cancel(ctx, fromID, toID)
	if ok {
		s.markActive(fromID, toID)
	}
	return ok, err
}

// ---- Friends ----

// RemoveFriend deletes both directed records of the friendship. The two
// deletes are sequential and independent; success means both sides were
// removed.
func (s *System) RemoveFriend(ctx context.Context, characterID, friendID string) (bool, error) {
	removedOwn, err := s.Friends.Remove(ctx, characterID, friendID)
	if err != nil {
		return false, err
	}
	removedOther, err := s.Friends.Remove(ctx, friendID, characterID)
	if err != nil {
		return false, err
	}
	return removedOwn && removedOther, nil
}

// FriendsWithStatus returns the full friend list, newest first, each entry
// augmented with current presence.
func (s *System) FriendsWithStatus(ctx context.Context, characterID string) ([]presence.FriendStatus, error) {
	list, err := s.Friends.List(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []presence.FriendStatus{}, nil
	}

	ids := make([]string, len(list))
	for i, rec := range list {
		ids[i] = rec.FriendID
	}
	statuses, err := s.Presence.MultiStatus(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]presence.FriendStatus, len(list))
	for i, rec := range list {
		status := statuses[i]
		result[i] = presence.FriendStatus{
			Friend:        rec,
			IsOnline:      status.IsOnline,
			StatusMessage: status.StatusMessage,
			LastSeen:      status.LastSeen,
		}
	}
	return result, nil
}

// ---- Presence ----

// CharacterOnline marks the character online and broadcasts the transition.
func (s *System) CharacterOnline(ctx context.Context, characterID, statusMessage string) error {
	if err := s.Presence.SetOnline(ctx, characterID, statusMessage); err != nil {
		return err
	}
	s.publishPresence(ctx, characterID, true, statusMessage)
	return nil
}

// CharacterOffline marks the character offline and broadcasts the transition.
func (s *System) CharacterOffline(ctx context.Context, characterID string) error {
	if err := s.Presence.SetOffline(ctx, characterID); err != nil {
		return err
	}
	s.publishPresence(ctx, characterID, false, "")
	return nil
}

// UpdateStatusMessage updates the status message, promoting an offline
// character to online, and broadcasts the resulting online state.
func (s *System) UpdateStatusMessage(ctx context.Context, characterID, message string) error {
	if err := s.Presence.UpdateStatusMessage(ctx, characterID, message); err != nil {
		return err
	}
	s.publishPresence(ctx, characterID, true, message)
	return nil
}

// OnlineCharacters returns the stored status of everyone currently online.
func (s *System) OnlineCharacters(ctx context.Context) ([]*presence.Status, error) {
	return s.Presence.OnlineUsers(ctx)
}

// Stats is a point-in-time summary of the online population.
type Stats struct {
	OnlineCount        int      `json:"onlineCount"`
	OnlineCharacterIDs []string `json:"onlineCharacterIds"`
}

// SystemStats summarizes the current online roster.
func (s *System) SystemStats(ctx context.Context) (*Stats, error) {
	users, err := s.Presence.OnlineUsers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.CharacterID
	}
	return &Stats{OnlineCount: len(users), OnlineCharacterIDs: ids}, nil
}

func (s *System) publishPresence(ctx context.Context, characterID string, online bool, message string) {
	if s.pubsub == nil {
		return
	}
	event := PresenceEvent{
		CharacterID:   characterID,
		IsOnline:      online,
		StatusMessage: message,
		At:            time.Now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	// Presence events are advisory; a failed publish must not fail the
	// presence write that already happened.
	if err := s.pubsub.Publish(ctx, PresenceChannel, string(payload)); err != nil {
		s.logger.Warn("presence event publish failed",
			zap.String("character_id", characterID), zap.Error(err))
	}
}

// ---- Administration ----

// ClearCharacterData removes every record owned by the character: friend
// ledger, request inbox/outbox and presence keys.
func (s *System) ClearCharacterData(ctx context.Context, characterID string) error {
	if err := s.Friends.Clear(ctx, characterID); err != nil {
		return err
	}
	if err := s.Requests.Clear(ctx, characterID); err != nil {
		return err
	}
	return s.Presence.Clear(ctx, characterID)
}

// ---- Mirror reconciliation ----

// markActive records characters whose request ledgers changed, so the
// background reconciliation pass knows where orphaned mirrors could exist.
func (s *System) markActive(ids ...string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.active[id] = now
	}
}

// ReconcileRequests removes request records whose mirror is missing: inbox
// entries with no matching outbox on the sender, and outbox entries with no
// matching inbox on the recipient. Such orphans are left behind when a
// crash lands between the two writes or two deletes of a mirrored pair.
// Returns the number of orphans removed.
func (s *System) ReconcileRequests(ctx context.Context, characterID string) (int, error) {
	removed := 0

	inbox, err := s.Requests.Inbox(ctx, characterID)
	if err != nil {
		return removed, err
	}
	for _, req := range inbox {
		mirrored, err := s.Requests.HasPending(ctx, req.FromCharacterID, characterID)
		if err != nil {
			return removed, err
		}
		if !mirrored {
			if err := s.Requests.DropInboxEntry(ctx, characterID, req.FromCharacterID); err != nil {
				return removed, err
			}
			removed++
		}
	}

	outbox, err := s.Requests.Outbox(ctx, characterID)
	if err != nil {
		return removed, err
	}
	for _, req := range outbox {
		mirror, err := s.Requests.Get(ctx, req.ToCharacterID, characterID)
		if err != nil {
			return removed, err
		}
		if mirror == nil {
			if err := s.Requests.DropOutboxEntry(ctx, characterID, req.ToCharacterID); err != nil {
				return removed, err
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("reconciled request mirrors",
			zap.String("character_id", characterID), zap.Int("removed", removed))
	}
	return removed, nil
}

// ReconcileActive runs ReconcileRequests for every recently-active
// character and prunes entries older than the configured window. Intended
// to be driven by a scheduler ticker, never inline with a user operation.
func (s *System) ReconcileActive(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.window)

	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id, last := range s.active {
		if last.Before(cutoff) {
			delete(s.active, id)
			continue
		}
		ids = append(ids, id)
	}
	s.mu.Unlock()

	total := 0
	for _, id := range ids {
		n, err := s.ReconcileRequests(ctx, id)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
