package storage

import (
	"context"
	"time"
)

// Store is the persistence API used by the router, dialog and scheduler.
// All mutating operations are short sequential units of work; the sqlite
// backend serializes them on a single connection.
type Store interface {
	// Users (access gate + approval workflow).
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, u User) error
	SetUserStatus(ctx context.Context, id int64, st UserStatus) error
	SetUserTZ(ctx context.Context, id int64, offset string) error
	DeleteUser(ctx context.Context, id int64) error
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersByStatus(ctx context.Context, st UserStatus) ([]User, error)

	// Destination catalog.
	UpsertChannel(ctx context.Context, ch Channel) error
	DeleteChannel(ctx context.Context, chatID int64) error
	ListChannels(ctx context.Context) ([]Channel, error)
	ReplaceVKGroups(ctx context.Context, groups []VKGroup) error
	ListVKGroups(ctx context.Context) ([]VKGroup, error)

	// Schedule queue.
	CreateSchedule(ctx context.Context, s *Schedule) (int64, error)
	GetSchedule(ctx context.Context, id int64) (Schedule, error)
	// DueSchedules returns undelivered entries with publish_at <= now,
	// ordered by publish_at ascending.
	DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error)
	// MarkSent flips the delivered flag and stamps sent_at in one statement.
	// Already-sent entries are left untouched.
	MarkSent(ctx context.Context, id int64, at time.Time) error
	DeleteSchedule(ctx context.Context, id int64) error
	// UpdatePublishAt reschedules a pending entry; sent entries are immutable.
	UpdatePublishAt(ctx context.Context, id int64, at time.Time) error
	ListPending(ctx context.Context) ([]Schedule, error)
	ListDelivered(ctx context.Context, limit int) ([]Schedule, error)

	Close() error
}
