package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wallora-server/core"
)

const sessionExt = ".json"

// fsStore keeps one JSON file per session under basePath.
type fsStore struct {
	basePath string
	mu       sync.Mutex
	now      func() time.Time
}

// NewStore creates a filesystem-based store rooted at basePath, creating the
// directory when needed.
func NewStore(basePath string) (*fsStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &fsStore{basePath: basePath, now: time.Now}, nil
}

func (s *fsStore) sessionPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: invalid session id %q", core.ErrInvalidArgument, id)
	}
	return filepath.Join(s.basePath, id+sessionExt), nil
}

func (s *fsStore) List(ctx context.Context, userID string) ([]*core.Session, error) {
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "path": s.basePath})

	files, err := os.ReadDir(s.basePath)
	if err != nil {
		log.WithError(err).Error("Failed to read session directory")
		return nil, err
	}

	sessions := make([]*core.Session, 0)
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), sessionExt) {
			continue
		}
		session, err := readSession(filepath.Join(s.basePath, file.Name()))
		if err != nil {
			log.WithError(err).Warnf("Failed to read session file %s, skipping", file.Name())
			continue
		}
		if session.UserID == userID {
			sessions = append(sessions, session.Summary())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	log.Infof("Listed %d sessions", len(sessions))
	return sessions, nil
}

func (s *fsStore) Get(ctx context.Context, id string) (*core.Session, error) {
	filePath, err := s.sessionPath(id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"session_id": id, "path": filePath})

	session, err := readSession(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("Session file not found")
			return nil, fmt.Errorf("%w: session %s", core.ErrNotFound, id)
		}
		log.WithError(err).Error("Failed to read session file")
		return nil, err
	}

	log.Info("Session retrieved successfully")
	return session, nil
}

func (s *fsStore) Save(ctx context.Context, session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *core.Session
	if session.ID != "" {
		filePath, err := s.sessionPath(session.ID)
		if err != nil {
			return err
		}
		existing, err = readSession(filePath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := core.PrepareSave(existing, session, s.now()); err != nil {
		return err
	}

	filePath, err := s.sessionPath(session.ID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"user_id":     session.UserID,
		"version":     session.Version,
		"data_length": len(session.Data),
		"path":        filePath,
	})

	data, err := json.Marshal(session)
	if err != nil {
		log.WithError(err).Error("Failed to marshal session for saving")
		return err
	}
	if err := writeFileAtomic(filePath, data); err != nil {
		log.WithError(err).Error("Failed to write session file")
		return err
	}

	log.Info("Session saved successfully")
	return nil
}

func (s *fsStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": id})
	if session.UserID != userID {
		log.Warn("Refusing to delete session owned by another user")
		return fmt.Errorf("%w: session %s belongs to another user", core.ErrForbidden, id)
	}

	filePath, _ := s.sessionPath(id)
	if err := os.Remove(filePath); err != nil {
		log.WithError(err).Error("Failed to delete session file")
		return err
	}

	log.Info("Session deleted successfully")
	return nil
}

func readSession(filePath string) (*core.Session, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var session core.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", filepath.Base(filePath), err)
	}
	return &session, nil
}

// writeFileAtomic replaces filePath so readers never see a partial file.
func writeFileAtomic(filePath string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".session-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filePath)
}
