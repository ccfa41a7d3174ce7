// Package request owns the pending friend-request ledger. One logical
// request is stored twice: in the recipient's inbox keyed by sender id and
// in the sender's outbox keyed by recipient id. The two writes (and the two
// deletes that resolve a request) are sequential, recipient side first, and
// are not transactional; a crash between them leaves one orphaned mirror,
// which the reconciliation pass in the facade can clean up later.
package request

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
	inboxPrefix  = "friend_requests:"
	outboxPrefix = "pending_requests:"
)

// StatusPending is the only status ever persisted; accepted, rejected and
// cancelled requests are deleted, not marked.
const StatusPending = "pending"

// Request is one pending friend request.
type Request struct {
	FromCharacterID   string    `json:"fromCharacterId"`
	FromCharacterName string    `json:"fromCharacterName"`
	ToCharacterID     string    `json:"toCharacterId"`
	Message           string    `json:"message"`
	SentAt            time.Time `json:"sentAt"`
	Status            string    `json:"status"`
}

// Workflow drives the (absent) → pending → (absent) lifecycle of requests.
type Workflow struct {
	cache  cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewWorkflow creates a request Workflow on top of the given cache.
func NewWorkflow(c cache.Cache, logger *zap.Logger) *Workflow {
	return &Workflow{cache: c, logger: logger, now: time.Now}
}

func inboxKey(characterID string) string  { return inboxPrefix + characterID }
func outboxKey(characterID string) string { return outboxPrefix + characterID }

// Send creates a pending request from fromID to toID. It fails closed on a
// self-request or when this ordered pair already has a pending request
// (checked through the sender's outbox). On success the same payload is
// written to the recipient's inbox and then the sender's outbox.
func (w *Workflow) Send(ctx context.Context, fromID, fromName, toID, message string) (bool, error) {
	if fromID == toID {
		return false, nil
	}
	pending, err := w.HasPending(ctx, fromID, toID)
	if err != nil {
		return false, err
	}
	if pending {
		return false, nil
	}

	req := Request{
		FromCharacterID:   fromID,
		FromCharacterName: fromName,
		ToCharacterID:     toID,
		Message:           message,
		SentAt:            w.now(),
		Status:            StatusPending,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return false, err
	}
	if err := w.cache.HSet(ctx, inboxKey(toID), fromID, string(payload)); err != nil {
		w.logger.Error("request inbox write failed",
			zap.String("from", fromID), zap.String("to", toID), zap.Error(err))
		return false, err
	}
	if err := w.cache.HSet(ctx, outboxKey(fromID), toID, string(payload)); err != nil {
		w.logger.Error("request outbox write failed",
			zap.String("from", fromID), zap.String("to", toID), zap.Error(err))
		return false, err
	}
	return true, nil
}

// Accept resolves the request received by toID from fromID and creates the
// friendship. Both directed friend records must be written before the
// mirrored request records are deleted; if either add fails the request is
// left intact so the accept can be retried. toName is the recipient's
// display name, recorded on the sender's side of the new friendship.
func (w *Workflow) Accept(ctx context.Context, toID, fromID, toName string, friends *friend.Store) (bool, error) {
	req, err := w.Get(ctx, toID, fromID)
	if err != nil {
		return false, err
	}
	if req == nil || req.Status != StatusPending {
		return false, nil
	}

	addedTo, err := friends.Add(ctx, toID, fromID, req.FromCharacterName, nil)
	if err != nil {
		return false, err
	}
	addedFrom, err := friends.Add(ctx, fromID, toID, toName, nil)
	if err != nil {
		return false, err
	}
	if !addedTo || !addedFrom {
		return false, nil
	}

	return true, w.deleteMirrors(ctx, toID, fromID)
}

// Reject resolves the request received by toID from fromID without creating
// a friendship.
func (w *Workflow) Reject(ctx context.Context, toID, fromID string) (bool, error) {
	req, err := w.Get(ctx, toID, fromID)
	if err != nil {
		return false, err
	}
	if req == nil {
		return false, nil
	}
	return true, w.deleteMirrors(ctx, toID, fromID)
}

// Cancel is the sender-initiated counterpart of Reject: fromID withdraws the
// request it sent to toID. Presence is checked through the sender's outbox,
// but the same two mirrored records are deleted.
func (w *Workflow) Cancel(ctx context.Context, fromID, toID string) (bool, error) {
	pending, err := w.HasPending(ctx, fromID, toID)
	if err != nil {
		return false, err
	}
	if !pending {
		return false, nil
	}
	return true, w.deleteMirrors(ctx, toID, fromID)
}

// deleteMirrors removes both copies of a resolved request, recipient side
// first. The two deletes are the single place mirrored cleanup happens, so
// a move to a transactional store only touches this helper.
func (w *Workflow) deleteMirrors(ctx context.Context, toID, fromID string) error {
	if err := w.cache.HDel(ctx, inboxKey(toID), fromID); err != nil {
		w.logger.Error("request inbox delete failed",
			zap.String("from", fromID), zap.String("to", toID), zap.Error(err))
		return err
	}
	if err := w.cache.HDel(ctx, outboxKey(fromID), toID); err != nil {
		w.logger.Error("request outbox delete failed",
			zap.String("from", fromID), zap.String("to", toID), zap.Error(err))
		return err
	}
	return nil
}

// DropInboxEntry deletes one inbox record without touching its mirror.
// Reconciliation uses it to discard orphans; normal resolution goes
// through Accept, Reject or Cancel.
func (w *Workflow) DropInboxEntry(ctx context.Context, toID, fromID string) error {
	return w.cache.HDel(ctx, inboxKey(toID), fromID)
}

// DropOutboxEntry deletes one outbox record without touching its mirror.
func (w *Workflow) DropOutboxEntry(ctx context.Context, fromID, toID string) error {
	return w.cache.HDel(ctx, outboxKey(fromID), toID)
}

// Inbox returns the requests characterID has received, oldest first.
func (w *Workflow) Inbox(ctx context.Context, characterID string) ([]Request, error) {
	return w.list(ctx, inboxKey(characterID))
}

// Outbox returns the requests characterID has sent, oldest first.
func (w *Workflow) Outbox(ctx context.Context, characterID string) ([]Request, error) {
	return w.list(ctx, outboxKey(characterID))
}

func (w *Workflow) list(ctx context.Context, key string) ([]Request, error) {
	fields, err := w.cache.HGetAll(ctx, key)
	if err != nil {
		w.logger.Error("request ledger read failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	requests := make([]Request, 0, len(fields))
	for field, raw := range fields {
		var req Request
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			w.logger.Warn("skipping unreadable request record",
				zap.String("key", key), zap.String("field", field), zap.Error(err))
			continue
		}
		requests = append(requests, req)
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].SentAt.Before(requests[j].SentAt)
	})
	return requests, nil
}

// Get returns the request received by toID from fromID, or nil when absent.
func (w *Workflow) Get(ctx context.Context, toID, fromID string) (*Request, error) {
	raw, err := w.cache.HGet(ctx, inboxKey(toID), fromID)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, nil
		}
		w.logger.Error("request read failed",
			zap.String("from", fromID), zap.String("to", toID), zap.Error(err))
		return nil, err
	}
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// HasPending reports whether fromID has an unresolved request to toID.
func (w *Workflow) HasPending(ctx context.Context, fromID, toID string) (bool, error) {
	exists, err := w.cache.HExists(ctx, outboxKey(fromID), toID)
	if err != nil {
		w.logger.Error("request outbox lookup failed",
			zap.String("from", fromID), zap.String("to", toID), zap.Error(err))
		return false, err
	}
	return exists, nil
}

// Count returns the number of requests characterID has received.
func (w *Workflow) Count(ctx context.Context, characterID string) (int, error) {
	n, err := w.cache.HLen(ctx, inboxKey(characterID))
	if err != nil {
		w.logger.Error("request inbox length failed", zap.String("character_id", characterID), zap.Error(err))
		return 0, err
	}
	return int(n), nil
}

// Clear deletes both the inbox and the outbox of characterID.
func (w *Workflow) Clear(ctx context.Context, characterID string) error {
	if err := w.cache.Del(ctx, inboxKey(characterID), outboxKey(characterID)); err != nil {
		w.logger.Error("request ledger delete failed", zap.String("character_id", characterID), zap.Error(err))
		return err
	}
	return nil
}
