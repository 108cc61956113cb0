package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	sqlite "modernc.org/sqlite"

	"tubechat/internal/protocol"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000

	// DefaultPageSize is used when a history request carries no usable limit.
	DefaultPageSize = 50
	// MaxPageSize caps a single history page.
	MaxPageSize = 100
)

// Default channels every new community starts with.
const (
	DefaultTextChannel  = "general"
	DefaultVoiceChannel = "voice-study"
)

var (
	// ErrNotFound is returned when a user, community, channel or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCommunityExists is returned when the owner already has a community.
	ErrCommunityExists = errors.New("community already exists for owner")
	// ErrChannelExists is returned when a video already has a channel.
	ErrChannelExists = errors.New("channel already exists for video")
	// ErrNotOwner is returned when a non-owner tries an owner-only change.
	ErrNotOwner = errors.New("requester does not own the community")
	// ErrVoiceChannel is returned when text is written to a voice channel.
	ErrVoiceChannel = errors.New("voice channels do not carry messages")
	// ErrVersionConflict is returned when an edit names a stale version.
	ErrVersionConflict = errors.New("message version conflict")
	// ErrInvalidInput is returned when a required field is empty after trimming.
	ErrInvalidInput = errors.New("invalid input")
)

// Store wraps the SQLite handle and implements the message store and the
// channel/community directory used by the realtime server.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens the SQLite database at path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "tubechat.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			avatar TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS communities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			FOREIGN KEY(owner_id) REFERENCES users(id)
		);`,
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			community_id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('text', 'voice', 'video')),
			linked_video TEXT UNIQUE,
			created_at INTEGER NOT NULL,
			FOREIGN KEY(community_id) REFERENCES communities(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			text TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY(channel_id) REFERENCES channels(id) ON DELETE CASCADE,
			FOREIGN KEY(sender_id) REFERENCES users(id)
		);`,
		`CREATE TABLE IF NOT EXISTS channel_messages (
			channel_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (channel_id, message_id),
			FOREIGN KEY(channel_id) REFERENCES channels(id) ON DELETE CASCADE,
			FOREIGN KEY(message_id) REFERENCES messages(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_channel_messages_position ON channel_messages(channel_id, position);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertUser stores the latest profile snapshot for a user.
func (s *Store) UpsertUser(ctx context.Context, user protocol.Identity) error {
	return upsertUser(ctx, s.db, user, s.now())
}

func upsertUser(ctx context.Context, db execer, user protocol.Identity, now time.Time) error {
	if !user.Valid() {
		return fmt.Errorf("upsert user: missing id")
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO users(id, username, full_name, avatar, updated_at) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			full_name = excluded.full_name,
			avatar = excluded.avatar,
			updated_at = excluded.updated_at
	`, user.ID, user.Username, user.FullName, user.Avatar, now.UnixMilli())
	return err
}

// GetUser fetches a stored profile.
func (s *Store) GetUser(ctx context.Context, id string) (*protocol.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, full_name, avatar FROM users WHERE id = ?`, id)
	var user protocol.Identity
	if err := row.Scan(&user.ID, &user.Username, &user.FullName, &user.Avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateCommunity creates a community for owner together with its default
// text and voice channels and a welcome message. An owner has at most one.
func (s *Store) CreateCommunity(ctx context.Context, name string, owner protocol.Identity) (*protocol.Community, []protocol.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, fmt.Errorf("create community: empty name: %w", ErrInvalidInput)
	}
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertUser(ctx, tx, owner, now); err != nil {
		return nil, nil, err
	}
	community := protocol.Community{ID: uuid.NewString(), Name: name, OwnerID: owner.ID, CreatedAt: fromMillis(now.UnixMilli())}
	if _, err := tx.ExecContext(ctx, `INSERT INTO communities(id, name, owner_id, created_at) VALUES(?, ?, ?, ?)`,
		community.ID, community.Name, community.OwnerID, now.UnixMilli()); err != nil {
		if isConstraintError(err) {
			return nil, nil, ErrCommunityExists
		}
		return nil, nil, err
	}

	channels := []protocol.Channel{
		{ID: uuid.NewString(), CommunityID: community.ID, Name: DefaultTextChannel, Kind: protocol.ChannelText, CreatedAt: community.CreatedAt},
		{ID: uuid.NewString(), CommunityID: community.ID, Name: DefaultVoiceChannel, Kind: protocol.ChannelVoice, CreatedAt: community.CreatedAt},
	}
	for _, ch := range channels {
		if _, err := tx.ExecContext(ctx, `INSERT INTO channels(id, community_id, name, kind, created_at) VALUES(?, ?, ?, ?, ?)`,
			ch.ID, ch.CommunityID, ch.Name, string(ch.Kind), now.UnixMilli()); err != nil {
			return nil, nil, err
		}
	}
	welcome := fmt.Sprintf("Welcome to %s's community!", owner.Username)
	if _, err := insertMessage(ctx, tx, channels[0].ID, owner, welcome, now); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &community, channels, nil
}

// GetCommunity fetches a community by id.
func (s *Store) GetCommunity(ctx context.Context, id string) (*protocol.Community, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, owner_id, created_at FROM communities WHERE id = ?`, id)
	var (
		community protocol.Community
		created   int64
	)
	if err := row.Scan(&community.ID, &community.Name, &community.OwnerID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	community.CreatedAt = fromMillis(created)
	return &community, nil
}

// GetChannel fetches a channel by id.
func (s *Store) GetChannel(ctx context.Context, id string) (*protocol.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, community_id, name, kind, COALESCE(linked_video, ''), created_at FROM channels WHERE id = ?`, id)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ch, err
}

// ListChannels returns a community's channels in creation order.
func (s *Store) ListChannels(ctx context.Context, communityID string) ([]protocol.Channel, error) {
	if _, err := s.GetCommunity(ctx, communityID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, community_id, name, kind, COALESCE(linked_video, ''), created_at
		FROM channels
		WHERE community_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, communityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []protocol.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// CreateVideoChannel links a video to a new channel in the community. Only the
// community owner may do this and a video gets at most one channel.
func (s *Store) CreateVideoChannel(ctx context.Context, communityID, videoID, name, requesterID string) (*protocol.Channel, error) {
	community, err := s.GetCommunity(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if community.OwnerID != requesterID {
		return nil, ErrNotOwner
	}
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, fmt.Errorf("create video channel: empty video id: %w", ErrInvalidInput)
	}
	if name = strings.TrimSpace(name); name == "" {
		name = "video-" + videoID
	}
	now := s.now()
	ch := protocol.Channel{
		ID:          uuid.NewString(),
		CommunityID: communityID,
		Name:        name,
		Kind:        protocol.ChannelVideo,
		LinkedVideo: videoID,
		CreatedAt:   fromMillis(now.UnixMilli()),
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO channels(id, community_id, name, kind, linked_video, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.CommunityID, ch.Name, string(ch.Kind), ch.LinkedVideo, now.UnixMilli()); err != nil {
		if isConstraintError(err) {
			return nil, ErrChannelExists
		}
		return nil, err
	}
	return &ch, nil
}

// CreateMessage upserts the sender profile, stores the message under a new
// time-sortable id and appends it to the channel's message list, all in one
// transaction.
func (s *Store) CreateMessage(ctx context.Context, channelID string, sender protocol.Identity, text string) (*protocol.Message, error) {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var kind string
	if err := tx.QueryRowContext(ctx, `SELECT kind FROM channels WHERE id = ?`, channelID).Scan(&kind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !protocol.ChannelKind(kind).CarriesMessages() {
		return nil, ErrVoiceChannel
	}
	if err := upsertUser(ctx, tx, sender, now); err != nil {
		return nil, err
	}
	msg, err := insertMessage(ctx, tx, channelID, sender, text, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, channelID string, sender protocol.Identity, text string, now time.Time) (*protocol.Message, error) {
	msg := protocol.Message{
		ID:        ulid.Make().String(),
		Channel:   channelID,
		Sender:    sender,
		Text:      text,
		Version:   1,
		CreatedAt: fromMillis(now.UnixMilli()),
		UpdatedAt: fromMillis(now.UnixMilli()),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO messages(id, channel_id, sender_id, text, version, created_at, updated_at) VALUES(?, ?, ?, ?, 1, ?, ?)`,
		msg.ID, channelID, sender.ID, text, now.UnixMilli(), now.UnixMilli()); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO channel_messages(channel_id, message_id, position)
		SELECT ?, ?, COALESCE(MAX(position), 0) + 1 FROM channel_messages WHERE channel_id = ?
	`, channelID, msg.ID, channelID); err != nil {
		return nil, err
	}
	return &msg, nil
}

const messageColumns = `m.id, m.channel_id, m.text, m.version, m.created_at, m.updated_at,
	u.id, u.username, u.full_name, u.avatar`

// GetMessage fetches a message with its sender profile populated.
func (s *Store) GetMessage(ctx context.Context, id string) (*protocol.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

// UpdateMessageText replaces the text and bumps the version. A non-zero
// expectedVersion must match the stored version or ErrVersionConflict is
// returned; zero applies the edit unconditionally.
func (s *Store) UpdateMessageText(ctx context.Context, id, text string, expectedVersion int64) (*protocol.Message, error) {
	query := `UPDATE messages SET text = ?, version = version + 1, updated_at = ? WHERE id = ?`
	args := []any{text, s.now().UnixMilli(), id}
	if expectedVersion > 0 {
		query += ` AND version = ?`
		args = append(args, expectedVersion)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.GetMessage(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrVersionConflict
	}
	return s.GetMessage(ctx, id)
}

// DeleteMessage removes the message from its channel list and deletes the record.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_messages WHERE message_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ListChannelMessages returns one page of channel history. Pages count back
// from the newest message; each page is returned oldest first.
func (s *Store) ListChannelMessages(ctx context.Context, channelID string, page, limit int) ([]protocol.Message, int, error) {
	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, 0, err
	}
	if !ch.Kind.CarriesMessages() {
		return nil, 0, ErrVoiceChannel
	}
	page, limit = NormalizePage(page, limit)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM channel_messages WHERE channel_id = ?`, channelID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM channel_messages cm
		JOIN messages m ON m.id = cm.message_id
		JOIN users u ON u.id = m.sender_id
		WHERE cm.channel_id = ?
		ORDER BY cm.position DESC
		LIMIT ? OFFSET ?`, channelID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var messages []protocol.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, total, nil
}

// NormalizePage clamps page and limit to usable values.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChannel(row scanner) (*protocol.Channel, error) {
	var (
		ch      protocol.Channel
		kind    string
		created int64
	)
	if err := row.Scan(&ch.ID, &ch.CommunityID, &ch.Name, &kind, &ch.LinkedVideo, &created); err != nil {
		return nil, err
	}
	ch.Kind = protocol.ChannelKind(kind)
	ch.CreatedAt = fromMillis(created)
	return &ch, nil
}

func scanMessage(row scanner) (*protocol.Message, error) {
	var (
		msg              protocol.Message
		created, updated int64
	)
	if err := row.Scan(&msg.ID, &msg.Channel, &msg.Text, &msg.Version, &created, &updated,
		&msg.Sender.ID, &msg.Sender.Username, &msg.Sender.FullName, &msg.Sender.Avatar); err != nil {
		return nil, err
	}
	msg.CreatedAt = fromMillis(created)
	msg.UpdatedAt = fromMillis(updated)
	return &msg, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
