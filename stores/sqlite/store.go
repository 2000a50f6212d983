package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"wallora-server/core"
)

// DefaultMaxSnapshots bounds the snapshot history kept per session.
const DefaultMaxSnapshots = 10

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT,
	thumbnail BLOB,
	data BLOB,
	sharing TEXT,
	version INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_user_id ON sessions (user_id);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	name TEXT,
	created_by TEXT,
	version INTEGER NOT NULL,
	thumbnail BLOB,
	data BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshots_session_id ON snapshots (session_id);

CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	last_active INTEGER NOT NULL
);`

type sqliteStore struct {
	db           *sql.DB
	maxSnapshots int
	now          func() time.Time
}

// NewStore opens (or creates) the SQLite database at dataSourceName and
// makes sure the schema exists.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &sqliteStore{db: db, maxSnapshots: DefaultMaxSnapshots, now: time.Now}, nil
}

// SetMaxSnapshots changes the per-session snapshot limit. Values below one
// are ignored.
func (s *sqliteStore) SetMaxSnapshots(n int) {
	if n > 0 {
		s.maxSnapshots = n
	}
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// SessionStore implementation

func (s *sqliteStore) List(ctx context.Context, userID string) ([]*core.Session, error) {
	log := logrus.WithField("user_id", userID)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, name, thumbnail, sharing, version, created_at, updated_at FROM sessions WHERE user_id = ? ORDER BY updated_at DESC, id DESC",
		userID)
	if err != nil {
		log.WithError(err).Error("Failed to list sessions")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close session rows")
		}
	}()

	sessions := make([]*core.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows, false)
		if err != nil {
			log.WithError(err).Error("Failed to scan session")
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	log.Infof("Listed %d sessions", len(sessions))
	return sessions, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*core.Session, error) {
	log := logrus.WithField("session_id", id)
	log.Debug("Retrieving session by ID")

	session, err := getSession(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("Session with specified ID not found")
			return nil, fmt.Errorf("%w: session %s", core.ErrNotFound, id)
		}
		log.WithError(err).Error("Failed to retrieve session")
		return nil, err
	}

	log.Info("Session retrieved successfully")
	return session, nil
}

func (s *sqliteStore) Save(ctx context.Context, session *core.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing *core.Session
	if session.ID != "" {
		existing, err = getSession(ctx, tx, session.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	if err := core.PrepareSave(existing, session, s.now()); err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"user_id":     session.UserID,
		"version":     session.Version,
		"data_length": len(session.Data),
	})

	sharing, err := marshalSharing(session.Sharing)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, name, thumbnail, data, sharing, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, thumbnail = excluded.thumbnail, data = excluded.data,
			sharing = excluded.sharing, version = excluded.version, updated_at = excluded.updated_at`,
		session.ID, session.UserID, session.Name, session.Thumbnail, session.Data, sharing,
		session.Version, session.CreatedAt.UnixMilli(), session.UpdatedAt.UnixMilli())
	if err != nil {
		log.WithError(err).Error("Failed to save session")
		return err
	}

	if err := tx.Commit(); err != nil {
		log.WithError(err).Error("Failed to commit session")
		return err
	}
	log.Info("Session saved successfully")
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, userID, id string) error {
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": id})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, "SELECT user_id FROM sessions WHERE id = ?", id).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("Session not found for deletion")
			return fmt.Errorf("%w: session %s", core.ErrNotFound, id)
		}
		return err
	}
	if owner != userID {
		log.Warn("Refusing to delete session owned by another user")
		return fmt.Errorf("%w: session %s belongs to another user", core.ErrForbidden, id)
	}

	for _, stmt := range []string{
		"DELETE FROM sessions WHERE id = ?",
		"DELETE FROM snapshots WHERE session_id = ?",
		"DELETE FROM rooms WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			log.WithError(err).Error("Failed to delete session")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Info("Session deleted successfully")
	return nil
}

// SnapshotStore implementation

func (s *sqliteStore) CreateSnapshot(ctx context.Context, snapshot *core.Snapshot) error {
	if snapshot.SessionID == "" {
		return fmt.Errorf("%w: snapshot session id is required", core.ErrInvalidArgument)
	}
	if snapshot.ID == "" {
		snapshot.ID = ulid.Make().String()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = s.now()
	}

	log := logrus.WithFields(logrus.Fields{
		"snapshot_id": snapshot.ID,
		"session_id":  snapshot.SessionID,
		"data_length": len(snapshot.Data),
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO snapshots (id, session_id, name, created_by, version, thumbnail, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		snapshot.ID, snapshot.SessionID, snapshot.Name, snapshot.CreatedBy, snapshot.Version,
		snapshot.Thumbnail, snapshot.Data, snapshot.CreatedAt.UnixMilli())
	if err != nil {
		log.WithError(err).Error("Failed to create snapshot")
		return err
	}

	// Drop everything past the newest maxSnapshots entries.
	res, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE session_id = ? AND id NOT IN (
			SELECT id FROM snapshots WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?)`,
		snapshot.SessionID, snapshot.SessionID, s.maxSnapshots)
	if err != nil {
		log.WithError(err).Error("Failed to prune old snapshots")
		return err
	}
	if pruned, _ := res.RowsAffected(); pruned > 0 {
		log.WithField("pruned", pruned).Debug("Pruned old snapshots")
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Info("Snapshot created successfully")
	return nil
}

func (s *sqliteStore) ListSnapshots(ctx context.Context, sessionID string) ([]*core.Snapshot, error) {
	log := logrus.WithField("session_id", sessionID)
	log.Debug("Listing snapshots for session")

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, name, created_by, version, thumbnail, created_at FROM snapshots WHERE session_id = ? ORDER BY created_at DESC, id DESC",
		sessionID)
	if err != nil {
		log.WithError(err).Error("Failed to list snapshots")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close snapshot rows")
		}
	}()

	snapshots := make([]*core.Snapshot, 0)
	for rows.Next() {
		var (
			snapshot        core.Snapshot
			name, createdBy sql.NullString
			createdAt       int64
		)
		if err := rows.Scan(&snapshot.ID, &snapshot.SessionID, &name, &createdBy, &snapshot.Version, &snapshot.Thumbnail, &createdAt); err != nil {
			log.WithError(err).Error("Failed to scan snapshot")
			return nil, err
		}
		snapshot.Name = name.String
		snapshot.CreatedBy = createdBy.String
		snapshot.CreatedAt = time.UnixMilli(createdAt).UTC()
		snapshots = append(snapshots, &snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	log.Info("Snapshots listed successfully")
	return snapshots, nil
}

func (s *sqliteStore) GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error) {
	log := logrus.WithField("snapshot_id", id)
	log.Debug("Retrieving snapshot by ID")

	var (
		snapshot        core.Snapshot
		name, createdBy sql.NullString
		createdAt       int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, session_id, name, created_by, version, thumbnail, data, created_at FROM snapshots WHERE id = ?",
		id).Scan(&snapshot.ID, &snapshot.SessionID, &name, &createdBy, &snapshot.Version, &snapshot.Thumbnail, &snapshot.Data, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("Snapshot with specified ID not found")
			return nil, fmt.Errorf("%w: snapshot %s", core.ErrNotFound, id)
		}
		log.WithError(err).Error("Failed to retrieve snapshot")
		return nil, err
	}
	snapshot.Name = name.String
	snapshot.CreatedBy = createdBy.String
	snapshot.CreatedAt = time.UnixMilli(createdAt).UTC()

	log.Info("Snapshot retrieved successfully")
	return &snapshot, nil
}

func (s *sqliteStore) DeleteSnapshot(ctx context.Context, id string) error {
	log := logrus.WithField("snapshot_id", id)

	result, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		log.WithError(err).Error("Failed to delete snapshot")
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: snapshot %s", core.ErrNotFound, id)
	}

	log.Info("Snapshot deleted successfully")
	return nil
}

// RoomRegistry implementation

func (s *sqliteStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: room id is required", core.ErrInvalidArgument)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (id, last_active) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET last_active = excluded.last_active",
		roomID, s.now().UnixMilli())
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to touch room")
	}
	return err
}

func (s *sqliteStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, last_active FROM rooms ORDER BY last_active DESC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]core.Room, 0)
	for rows.Next() {
		var room core.Room
		if err := rows.Scan(&room.ID, &room.LastActive); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getSession(ctx context.Context, q queryer, id string) (*core.Session, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, user_id, name, thumbnail, sharing, version, created_at, updated_at, data FROM sessions WHERE id = ?", id)
	return scanSession(row, true)
}

func scanSession(row scanner, withData bool) (*core.Session, error) {
	var (
		session              core.Session
		name, sharing        sql.NullString
		createdAt, updatedAt int64
	)
	dest := []any{&session.ID, &session.UserID, &name, &session.Thumbnail, &sharing, &session.Version, &createdAt, &updatedAt}
	if withData {
		dest = append(dest, &session.Data)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	session.Name = name.String
	session.CreatedAt = time.UnixMilli(createdAt).UTC()
	session.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if sharing.Valid && sharing.String != "" {
		session.Sharing = &core.Sharing{}
		if err := json.Unmarshal([]byte(sharing.String), session.Sharing); err != nil {
			return nil, fmt.Errorf("decode sharing of session %s: %w", session.ID, err)
		}
	}
	return &session, nil
}

func marshalSharing(sharing *core.Sharing) (sql.NullString, error) {
	if sharing == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(sharing)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
