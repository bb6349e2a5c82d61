package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"postbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeFormat must be fixed-width so the TEXT publish_at comparison in
// DueSchedules stays order-correct; RFC3339Nano drops trailing fractional
// zeros and breaks lexicographic ordering at second boundaries.
const timeFormat = time.RFC3339

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (or creates) the sqlite database and applies migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users ----

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	var super int
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, is_superadmin, status, tz_offset FROM users WHERE user_id = ?`, id,
	).Scan(&u.ID, &u.Username, &super, &status, &u.TZOffset)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Superadmin = super != 0
	u.Status = UserStatus(status)
	return u, nil
}

func (s *sqliteStore) CreateUser(ctx context.Context, u User) error {
	super := 0
	if u.Superadmin {
		super = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, username, is_superadmin, status, tz_offset) VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET username=excluded.username`,
		u.ID, u.Username, super, string(u.Status), u.TZOffset,
	)
	return err
}

func (s *sqliteStore) SetUserStatus(ctx context.Context, id int64, st UserStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET status=? WHERE user_id=?`, string(st), id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) SetUserTZ(ctx context.Context, id int64, offset string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET tz_offset=? WHERE user_id=?`, offset, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) DeleteUser(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE user_id=?`, id)
	return err
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]User, error) {
	return s.scanUsers(ctx, `SELECT user_id, username, is_superadmin, status, tz_offset FROM users ORDER BY user_id`)
}

func (s *sqliteStore) ListUsersByStatus(ctx context.Context, st UserStatus) ([]User, error) {
	return s.scanUsers(ctx,
		`SELECT user_id, username, is_superadmin, status, tz_offset FROM users WHERE status=? ORDER BY user_id`,
		string(st))
}

func (s *sqliteStore) scanUsers(ctx context.Context, q string, args ...any) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var super int
		var status string
		if err := rows.Scan(&u.ID, &u.Username, &super, &status, &u.TZOffset); err != nil {
			return nil, err
		}
		u.Superadmin = super != 0
		u.Status = UserStatus(status)
		out = append(out, u)
	}
	return out, rows.Err()
}

// ---- destination catalog ----

func (s *sqliteStore) UpsertChannel(ctx context.Context, ch Channel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(chat_id, title) VALUES(?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET title=excluded.title`,
		ch.ChatID, ch.Title,
	)
	return err
}

func (s *sqliteStore) DeleteChannel(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE chat_id=?`, chatID)
	return err
}

func (s *sqliteStore) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, title FROM channels ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ChatID, &ch.Title); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ReplaceVKGroups(ctx context.Context, groups []VKGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vk_groups`); err != nil {
		return err
	}
	for _, g := range groups {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vk_groups(group_id, name) VALUES(?,?)`, g.ID, g.Name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ListVKGroups(ctx context.Context) ([]VKGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, name FROM vk_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VKGroup
	for rows.Next() {
		var g VKGroup
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ---- schedule queue ----

func (s *sqliteStore) CreateSchedule(ctx context.Context, sc *Schedule) (int64, error) {
	att, err := json.Marshal(attachmentsOrEmpty(sc.Attachments))
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule(platform, from_chat_id, message_id, target_id, text, attachments, publish_at, sent)
		 VALUES(?,?,?,?,?,?,?,0)`,
		string(sc.Platform), sc.FromChatID, sc.MessageID, sc.TargetID, sc.Text, string(att),
		sc.PublishAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	sc.ID = id
	return id, nil
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id int64) (Schedule, error) {
	rows, err := s.scanSchedules(ctx, selectSchedule+` WHERE id=?`, id)
	if err != nil {
		return Schedule{}, err
	}
	if len(rows) == 0 {
		return Schedule{}, ErrNotFound
	}
	return rows[0], nil
}

func (s *sqliteStore) DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error) {
	return s.scanSchedules(ctx,
		selectSchedule+` WHERE sent=0 AND publish_at <= ? ORDER BY publish_at ASC`,
		now.UTC().Format(timeFormat),
	)
}

func (s *sqliteStore) MarkSent(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedule SET sent=1, sent_at=? WHERE id=? AND sent=0`,
		at.UTC().Format(timeFormat), id,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedule WHERE id=?`, id)
	return err
}

func (s *sqliteStore) UpdatePublishAt(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedule SET publish_at=? WHERE id=? AND sent=0`,
		at.UTC().Format(timeFormat), id,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) ListPending(ctx context.Context) ([]Schedule, error) {
	return s.scanSchedules(ctx, selectSchedule+` WHERE sent=0 ORDER BY publish_at ASC`)
}

func (s *sqliteStore) ListDelivered(ctx context.Context, limit int) ([]Schedule, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.scanSchedules(ctx, selectSchedule+` WHERE sent=1 ORDER BY sent_at DESC LIMIT ?`, limit)
}

const selectSchedule = `SELECT id, platform, from_chat_id, message_id, target_id, text, attachments, publish_at, sent, sent_at FROM schedule`

func (s *sqliteStore) scanSchedules(ctx context.Context, q string, args ...any) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		var platform, att, pub string
		var sent int
		var sentAt sql.NullString
		if err := rows.Scan(&sc.ID, &platform, &sc.FromChatID, &sc.MessageID, &sc.TargetID,
			&sc.Text, &att, &pub, &sent, &sentAt); err != nil {
			return nil, err
		}
		sc.Platform = Platform(platform)
		sc.Sent = sent != 0
		if err := json.Unmarshal([]byte(att), &sc.Attachments); err != nil {
			s.log.Warn("bad attachments json; dropping", logx.Int64("id", sc.ID), logx.Err(err))
			sc.Attachments = nil
		}
		t, err := time.Parse(timeFormat, pub)
		if err != nil {
			return nil, fmt.Errorf("schedule %d: bad publish_at %q: %w", sc.ID, pub, err)
		}
		sc.PublishAt = t
		if sentAt.Valid && sentAt.String != "" {
			ts, err := time.Parse(timeFormat, sentAt.String)
			if err != nil {
				return nil, fmt.Errorf("schedule %d: bad sent_at %q: %w", sc.ID, sentAt.String, err)
			}
			sc.SentAt = &ts
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func attachmentsOrEmpty(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
