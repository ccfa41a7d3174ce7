// Package presence tracks ephemeral online state and a durable last-seen
// trail. Online is modeled as a self-expiring marker: the marker's absence
// after the TTL elapses is the only offline signal, there is no heartbeat
// bookkeeping. Presence reads are advisory; two keys are read independently
// and a status can change between them.
package presence

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/aurora-mmo/social-server/cache"
	"github.com/aurora-mmo/social-server/social/friend"
	"go.uber.org/zap"
)

const (
	onlinePrefix   = "online:"
	lastSeenPrefix = "last_seen:"
	// onlineIndexKey is a set of character ids that hold (or held) an online
	// marker. The store cannot enumerate keys, so the roster is indexed
	// explicitly; markers expire without touching the set, leaving stale
	// members that OnlineUsers prunes on read.
	onlineIndexKey = "online_index"
)

// DefaultTTL is how long an online marker lives without a refresh.
const DefaultTTL = 600 * time.Second

// Status is the synthesized presence view of one character.
type Status struct {
	CharacterID   string     `json:"characterId"`
	IsOnline      bool       `json:"isOnline"`
	StatusMessage string     `json:"statusMessage"`
	LastSeen      *time.Time `json:"lastSeen"`
}

// FriendStatus is a friend record augmented with presence.
type FriendStatus struct {
	Friend        friend.Record
	IsOnline      bool
	StatusMessage string
	LastSeen      *time.Time
}

// MarshalJSON flattens the friend record and the presence fields into one object.
func (fs FriendStatus) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(fs.Friend)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m["isOnline"] = fs.IsOnline
	if fs.IsOnline {
		m["statusMessage"] = fs.StatusMessage
	} else if fs.LastSeen != nil {
		m["lastSeen"] = fs.LastSeen.Format(time.RFC3339Nano)
	} else {
		m["lastSeen"] = nil
	}
	return json.Marshal(m)
}

// Tracker maintains the online markers and last-seen timestamps.
type Tracker struct {
	cache  cache.Cache
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewTracker creates a presence Tracker. ttl <= 0 selects DefaultTTL.
func NewTracker(c cache.Cache, ttl time.Duration, logger *zap.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{cache: c, logger: logger, ttl: ttl, now: time.Now}
}

func onlineKey(characterID string) string   { return onlinePrefix + characterID }
func lastSeenKey(characterID string) string { return lastSeenPrefix + characterID }

// SetOnline marks the character online with the given status message.
// Calling it while already online resets the TTL. The durable last-seen
// timestamp is refreshed on every call.
func (t *Tracker) SetOnline(ctx context.Context, characterID, statusMessage string) error {
	now := t.now()
	status := Status{
		CharacterID:   characterID,
		IsOnline:      true,
		StatusMessage: statusMessage,
		LastSeen:      &now,
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	if err := t.cache.Set(ctx, onlineKey(characterID), string(payload), t.ttl); err != nil {
		t.logger.Error("online marker write failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}
	if err := t.cache.Set(ctx, lastSeenKey(characterID), now.Format(time.RFC3339Nano), 0); err != nil {
		t.logger.Error("last-seen write failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}
	if err := t.cache.SAdd(ctx, onlineIndexKey, characterID); err != nil {
		t.logger.Error("online index add failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}
	return nil
}

// SetOffline removes the online marker and stamps last-seen with the
// transition instant. Idempotent.
func (t *Tracker) SetOffline(ctx context.Context, characterID string) error {
	if err := t.cache.Del(ctx, onlineKey(characterID)); err != nil {
		t.logger.Error("online marker delete failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}
	if err := t.cache.SRem(ctx, onlineIndexKey, characterID); err != nil {
		t.logger.Error("online index remove failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}
	if err := t.cache.Set(ctx, lastSeenKey(characterID), t.now().Format(time.RFC3339Nano), 0); err != nil {
		t.logger.Error("last-seen write failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}
	return nil
}

// Status synthesizes the presence view from two independent reads: the
// online marker and the last-seen key. A character with neither key has
// never been seen.
func (t *Tracker) Status(ctx context.Context, characterID string) (*Status, error) {
	status := &Status{CharacterID: characterID}

	raw, err := t.cache.Get(ctx, onlineKey(characterID))
	switch {
	case err == nil:
		var stored Status
		if err := json.Unmarshal([]byte(raw), &stored); err == nil {
			status.IsOnline = true
			status.StatusMessage = stored.StatusMessage
		}
	case !cache.IsNotFound(err):
		t.logger.Error("online marker read failed", zap.String("character_id", characterID), zap.Error(err))
		return nil, err
	}

	lastSeen, err := t.LastSeen(ctx, characterID)
	if err != nil {
		return nil, err
	}
	status.LastSeen = lastSeen
	return status, nil
}

// MultiStatus fans out Status per id. Each read is independent, so the
// results are not a consistent snapshot.
func (t *Tracker) MultiStatus(ctx context.Context, characterIDs []string) ([]*Status, error) {
	statuses := make([]*Status, 0, len(characterIDs))
	for _, id := range characterIDs {
		status, err := t.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// OnlineUsers returns the stored status of every character currently
// online, ordered by character id. Roster members whose marker has expired
// are pruned from the index as they are encountered.
func (t *Tracker) OnlineUsers(ctx context.Context) ([]*Status, error) {
	ids, err := t.cache.SMembers(ctx, onlineIndexKey)
	if err != nil {
		t.logger.Error("online index read failed", zap.Error(err))
		return nil, err
	}
	users := make([]*Status, 0, len(ids))
	for _, id := range ids {
		raw, err := t.cache.Get(ctx, onlineKey(id))
		if err != nil {
			if cache.IsNotFound(err) {
				if err := t.cache.SRem(ctx, onlineIndexKey, id); err != nil {
					t.logger.Error("online index prune failed", zap.String("character_id", id), zap.Error(err))
					return nil, err
				}
				continue
			}
			t.logger.Error("online marker read failed", zap.String("character_id", id), zap.Error(err))
			return nil, err
		}
		var status Status
		if err := json.Unmarshal([]byte(raw), &status); err != nil {
			t.logger.Warn("skipping unreadable online marker", zap.String("character_id", id), zap.Error(err))
			continue
		}
		users = append(users, &status)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CharacterID < users[j].CharacterID
	})
	return users, nil
}

// OnlineFriends returns the subset of characterID's friends that are
// currently online, augmented with their status messages.
func (t *Tracker) OnlineFriends(ctx context.Context, characterID string, friends *friend.Store) ([]FriendStatus, error) {
	return t.filterFriends(ctx, characterID, friends, true)
}

// OfflineFriends returns the subset of characterID's friends that are
// currently offline, augmented with their last-seen timestamps.
func (t *Tracker) OfflineFriends(ctx context.Context, characterID string, friends *friend.Store) ([]FriendStatus, error) {
	return t.filterFriends(ctx, characterID, friends, false)
}

func (t *Tracker) filterFriends(ctx context.Context, characterID string, friends *friend.Store, online bool) ([]FriendStatus, error) {
	list, err := friends.List(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []FriendStatus{}, nil
	}

	ids := make([]string, len(list))
	for i, rec := range list {
		ids[i] = rec.FriendID
	}
	statuses, err := t.MultiStatus(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]FriendStatus, 0, len(list))
	for i, rec := range list {
		status := statuses[i]
		if status.IsOnline != online {
			continue
		}
		fs := FriendStatus{Friend: rec, IsOnline: status.IsOnline}
		if online {
			fs.StatusMessage = status.StatusMessage
		} else {
			fs.LastSeen = status.LastSeen
		}
		result = append(result, fs)
	}
	return result, nil
}

// LastSeen returns the durable last-seen timestamp, or nil when the
// character has never been seen.
func (t *Tracker) LastSeen(ctx context.Context, characterID string) (*time.Time, error) {
	raw, err := t.cache.Get(ctx, lastSeenKey(characterID))
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, nil
		}
		t.logger.Error("last-seen read failed", zap.String("character_id", characterID), zap.Error(err))
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// UpdateStatusMessage changes the status message of an online character,
// refreshing the marker TTL and last-seen. Calling it while offline
// promotes the character to online: a message update implies presence.
func (t *Tracker) UpdateStatusMessage(ctx context.Context, characterID, message string) error {
	raw, err := t.cache.Get(ctx, onlineKey(characterID))
	if err != nil {
		if cache.IsNotFound(err) {
			return t.SetOnline(ctx, characterID, message)
		}
		t.logger.Error("online marker read failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}

	var status Status
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return err
	}
	now := t.now()
	status.StatusMessage = message
	status.LastSeen = &now
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	if err := t.cache.Set(ctx, onlineKey(characterID), string(payload), t.ttl); err != nil {
		t.logger.Error("online marker write failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}
	if err := t.cache.Set(ctx, lastSeenKey(characterID), now.Format(time.RFC3339Nano), 0); err != nil {
		t.logger.Error("last-seen write failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}
	return nil
}

// IsExpired reports whether the online marker is currently absent. Callers
// holding a cached online flag can use it to reconcile staleness lazily.
func (t *Tracker) IsExpired(ctx context.Context, characterID string) (bool, error) {
	exists, err := t.cache.Exists(ctx, onlineKey(characterID))
	if err != nil {
		t.logger.Error("online marker check failed", zap.String("character_id", characterID), zap.Error(err))
		return false, err
	}
	return !exists, nil
}

// Clear deletes both presence keys and the roster index entry. The
// last-seen history is lost.
func (t *Tracker) Clear(ctx context.Context, characterID string) error {
	if err := t.cache.Del(ctx, onlineKey(characterID), lastSeenKey(characterID)); err != nil {
		t.logger.Error("presence delete failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}
	if err := t.cache.SRem(ctx, onlineIndexKey, characterID); err != nil {
		t.logger.Error("online index remove failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}
	return nil
}
