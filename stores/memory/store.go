package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wallora-server/core"
)

// sessionStore keeps sessions in process memory. It also tracks
// collaboration rooms.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	rooms    map[string]int64
	now      func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*core.Session),
		rooms:    make(map[string]int64),
		now:      time.Now,
	}
}

func (s *sessionStore) List(ctx context.Context, userID string) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*core.Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			sessions = append(sessions, copySession(session).Summary())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	logrus.WithField("user_id", userID).Infof("Listed %d sessions", len(sessions))
	return sessions, nil
}

func (s *sessionStore) Get(ctx context.Context, id string) (*core.Session, error) {
	log := logrus.WithField("session_id", id)

	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		log.Warn("Session with specified ID not found")
		return nil, fmt.Errorf("%w: session %s", core.ErrNotFound, id)
	}
	log.Info("Session retrieved successfully")
	return copySession(session), nil
}

func (s *sessionStore) Save(ctx context.Context, session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *core.Session
	if session.ID != "" {
		existing = s.sessions[session.ID]
	}
	if err := core.PrepareSave(existing, session, s.now()); err != nil {
		return err
	}
	s.sessions[session.ID] = copySession(session)

	logrus.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"user_id":     session.UserID,
		"version":     session.Version,
		"data_length": len(session.Data),
	}).Info("Session saved successfully")
	return nil
}

func (s *sessionStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": id})

	session, ok := s.sessions[id]
	if !ok {
		log.Warn("Session not found for deletion")
		return fmt.Errorf("%w: session %s", core.ErrNotFound, id)
	}
	if session.UserID != userID {
		log.Warn("Refusing to delete session owned by another user")
		return fmt.Errorf("%w: session %s belongs to another user", core.ErrForbidden, id)
	}

	delete(s.sessions, id)
	delete(s.rooms, id)
	log.Info("Session deleted successfully")
	return nil
}

func (s *sessionStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: room id is required", core.ErrInvalidArgument)
	}

	s.mu.Lock()
	s.rooms[roomID] = s.now().UnixMilli()
	s.mu.Unlock()

	return nil
}

func (s *sessionStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.Room, 0, len(s.rooms))
	for id, last := range s.rooms {
		rooms = append(rooms, core.Room{ID: id, LastActive: last})
	}
	sortRooms(rooms)
	return rooms, nil
}

// sortRooms orders rooms most recently active first.
func sortRooms(rooms []core.Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})
}

func copySession(s *core.Session) *core.Session {
	c := *s
	c.Data = append([]byte(nil), s.Data...)
	c.Thumbnail = append([]byte(nil), s.Thumbnail...)
	if s.Sharing != nil {
		sh := *s.Sharing
		sh.Editors = append([]string(nil), s.Sharing.Editors...)
		sh.Viewers = append([]string(nil), s.Sharing.Viewers...)
		c.Sharing = &sh
	}
	return &c
}
