// Package friend owns the symmetric friendship ledger: one hash per
// character keyed by friend id. The store itself is strictly one-sided;
// mirrored writes for the counterpart are issued by the callers that
// compose it (request acceptance, facade-level removal).
package friend

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/aurora-mmo/social-server/cache"
	"go.uber.org/zap"
)

const keyPrefix = "friends:"

// Record is one directed friendship edge stored under the owner's ledger.
// Caller-supplied metadata (level, rank, ...) is merged flat into the
// serialized object; friendId, name and addedAt are reserved keys.
type Record struct {
	FriendID string
	Name     string
	AddedAt  time.Time
	Metadata map[string]interface{}
}

// MarshalJSON flattens Metadata into the top-level object.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Metadata)+3)
	for k, v := range r.Metadata {
		m[k] = v
	}
	m["friendId"] = r.FriendID
	m["name"] = r.Name
	m["addedAt"] = r.AddedAt.Format(time.RFC3339Nano)
	return json.Marshal(m)
}

// UnmarshalJSON splits the reserved keys back out and keeps the rest as Metadata.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if v, ok := m["friendId"].(string); ok {
		r.FriendID = v
	}
	if v, ok := m["name"].(string); ok {
		r.Name = v
	}
	if v, ok := m["addedAt"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			r.AddedAt = ts
		}
	}
	delete(m, "friendId")
	delete(m, "name")
	delete(m, "addedAt")
	if len(m) > 0 {
		r.Metadata = m
	} else {
		r.Metadata = nil
	}
	return nil
}

// Store provides CRUD over one character's friendship ledger.
type Store struct {
	cache  cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a friend Store on top of the given cache.
func NewStore(c cache.Cache, logger *zap.Logger) *Store {
	return &Store{cache: c, logger: logger, now: time.Now}
}

func ledgerKey(owner string) string {
	return keyPrefix + owner
}

// Add creates one FriendRecord for owner. It fails closed (false, no write)
// on self-friendship or when friendId is already present; re-adding never
// overwrites the existing record.
func (s *Store) Add(ctx context.Context, owner, friendID, name string, metadata map[string]interface{}) (bool, error) {
	if owner == friendID {
		return false, nil
	}
	exists, err := s.cache.HExists(ctx, ledgerKey(owner), friendID)
	if err != nil {
		s.logger.Error("friend ledger lookup failed",
			zap.String("owner", owner), zap.String("friend_id", friendID), zap.Error(err))
		return false, err
	}
	if exists {
		return false, nil
	}

	rec := Record{
		FriendID: friendID,
		Name:     name,
		AddedAt:  s.now(),
		Metadata: metadata,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	if err := s.cache.HSet(ctx, ledgerKey(owner), friendID, string(data)); err != nil {
		s.logger.Error("friend record write failed",
			zap.String("owner", owner), zap.String("friend_id", friendID), zap.Error(err))
		return false, err
	}
	return true, nil
}

// Remove deletes the owner→friendID record. Removing an absent record is a
// no-op reported as false, not an error.
func (s *Store) Remove(ctx context.Context, owner, friendID string) (bool, error) {
	exists, err := s.cache.HExists(ctx, ledgerKey(owner), friendID)
	if err != nil {
		s.logger.Error("friend ledger lookup failed",
			zap.String("owner", owner), zap.String("friend_id", friendID), zap.Error(err))
		return false, err
	}
	if !exists {
		return false, nil
	}
	if err := s.cache.HDel(ctx, ledgerKey(owner), friendID); err != nil {
		s.logger.Error("friend record delete failed",
			zap.String("owner", owner), zap.String("friend_id", friendID), zap.Error(err))
		return false, err
	}
	return true, nil
}

// List returns all of owner's friends, most recently added first.
func (s *Store) List(ctx context.Context, owner string) ([]Record, error) {
	fields, err := s.cache.HGetAll(ctx, ledgerKey(owner))
	if err != nil {
		s.logger.Error("friend ledger read failed", zap.String("owner", owner), zap.Error(err))
		return nil, err
	}
	records := make([]Record, 0, len(fields))
	for field, raw := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("skipping unreadable friend record",
				zap.String("owner", owner), zap.String("field", field), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].AddedAt.After(records[j].AddedAt)
	})
	return records, nil
}

// Search filters the friend list by a case-insensitive substring match on
// the display name. A blank keyword returns the full list in List order.
func (s *Store) Search(ctx context.Context, owner, keyword string) ([]Record, error) {
	records, err := s.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return records, nil
	}
	needle := strings.ToLower(keyword)
	matched := make([]Record, 0, len(records))
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.Name), needle) {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

// IsFriend reports whether owner has a record for friendID.
func (s *Store) IsFriend(ctx context.Context, owner, friendID string) (bool, error) {
	exists, err := s.cache.HExists(ctx, ledgerKey(owner), friendID)
	if err != nil {
		s.logger.Error("friend ledger lookup failed",
			zap.String("owner", owner), zap.String("friend_id", friendID), zap.Error(err))
		return false, err
	}
	return exists, nil
}

// Get returns owner's record for friendID, or nil when absent.
func (s *Store) Get(ctx context.Context, owner, friendID string) (*Record, error) {
	raw, err := s.cache.HGet(ctx, ledgerKey(owner), friendID)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, nil
		}
		s.logger.Error("friend record read failed",
			zap.String("owner", owner), zap.String("friend_id", friendID), zap.Error(err))
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Count returns the number of friends owner has.
func (s *Store) Count(ctx context.Context, owner string) (int, error) {
	n, err := s.cache.HLen(ctx, ledgerKey(owner))
	if err != nil {
		s.logger.Error("friend ledger length failed", zap.String("owner", owner), zap.Error(err))
		return 0, err
	}
	return int(n), nil
}

// Clear deletes owner's entire ledger.
func (s *Store) Clear(ctx context.Context, owner string) error {
	if err := s.cache.Del(ctx, ledgerKey(owner)); err != nil {
		s.logger.Error("friend ledger delete failed", zap.String("owner", owner), zap.Error(err))
		return err
	}
	return nil
}
