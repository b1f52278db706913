package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tphakala/safetynet-go/internal/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ErrNotificationNotFound is returned when a notification does not exist for the user.
var ErrNotificationNotFound = errors.Newf("notification not found").
	Component("datastore").
	Category(errors.CategoryNotFound).
	Build()

// ErrDuplicateNotification is returned when a notification with the same id is
// already stored.
var ErrDuplicateNotification = errors.Newf("notification already stored").
	Component("datastore").
	Category(errors.CategoryState).
	Build()

// ListOptions filters ListNotifications.
type ListOptions struct {
	UnreadOnly bool
	Before     time.Time
	Limit      int
}

// InsertNotification persists n, assigning an id and creation time when missing.
func (s *Store) InsertNotification(ctx context.Context, n *Notification) error {
	if n == nil {
		return validationError("notification cannot be nil", "notification")
	}
	if n.UserID == "" {
		return validationError("notification user id is required", "user_id")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	// SQLite compares timestamps as text, so every stored time shares one offset.
	n.CreatedAt = n.CreatedAt.UTC()

	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateNotification
		}
		return dbError(err, "insert_notification", errors.PriorityHigh,
			"type", n.Type,
			"entity_id", n.EntityID)
	}
	return nil
}

// ListNotifications returns the user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if opts.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if !opts.Before.IsZero() {
		q = q.Where("created_at < ?", opts.Before.UTC())
	}

	var out []Notification
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, dbError(err, "list_notifications", errors.PriorityMedium, "user_id", userID)
	}
	return out, nil
}

// UnreadCount returns the number of unread notifications of the user.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	if err != nil {
		return 0, dbError(err, "unread_count", errors.PriorityLow, "user_id", userID)
	}
	return n, nil
}

// MarkRead marks one notification of the user as read.
func (s *Store) MarkRead(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return dbError(res.Error, "mark_read", errors.PriorityLow, "id", id)
	}
	if res.RowsAffected == 0 {
		// Already-read rows report zero affected rows on MySQL.
		var n int64
		if err := s.db.WithContext(ctx).Model(&Notification{}).
			Where("id = ? AND user_id = ?", id, userID).Count(&n).Error; err != nil {
			return dbError(err, "mark_read", errors.PriorityLow, "id", id)
		}
		if n == 0 {
			return ErrNotificationNotFound
		}
	}
	return nil
}

// MarkAllRead marks every unread notification of the user as read.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, dbError(res.Error, "mark_all_read", errors.PriorityLow, "user_id", userID)
	}
	return res.RowsAffected, nil
}

// DispatchRecord is the dedup key and time of a persisted notification.
type DispatchRecord struct {
	DedupKey  string
	CreatedAt time.Time
}

// RecentDispatches returns the latest dispatch time of every dedup key among the
// user's notifications created at or after since.
func (s *Store) RecentDispatches(ctx context.Context, userID string, since time.Time) ([]DispatchRecord, error) {
	var rows []Notification
	err := s.db.WithContext(ctx).
		Select("dedup_key", "created_at").
		Where("user_id = ? AND created_at >= ? AND dedup_key <> ?", userID, since.UTC(), "").
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "recent_dispatches", errors.PriorityMedium,
			"user_id", userID,
			"since", since.Format(time.RFC3339))
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([]DispatchRecord, 0, len(rows))
	for _, r := range rows {
		if _, dup := seen[r.DedupKey]; dup {
			continue
		}
		seen[r.DedupKey] = struct{}{}
		out = append(out, DispatchRecord{DedupKey: r.DedupKey, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

// DeleteNotificationsBefore removes notifications older than before and returns the count.
func (s *Store) DeleteNotificationsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before.UTC()).Delete(&Notification{})
	if res.Error != nil {
		return 0, dbError(res.Error, "delete_notifications", errors.PriorityLow,
			"before", before.Format(time.RFC3339))
	}
	return res.RowsAffected, nil
}
