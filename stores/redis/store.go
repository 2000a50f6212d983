// Package redis stores sessions and collaboration rooms in Redis, for
// deployments where several server instances share state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"wallora-server/core"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to "wallora".
	Prefix string
}

// maxRetries bounds optimistic transaction retries when a concurrent writer
// touches the same session.
const maxRetries = 10

type redisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewStore connects to Redis and verifies the connection with a ping.
func NewStore(ctx context.Context, cfg Config) (*redisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "wallora"
	}
	return &redisStore{client: client, prefix: prefix, now: time.Now}, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) sessionKey(id string) string {
	return s.prefix + ":session:" + id
}

func (s *redisStore) userKey(userID string) string {
	return s.prefix + ":user:" + userID + ":sessions"
}

func (s *redisStore) roomsKey() string {
	return s.prefix + ":rooms"
}

func (s *redisStore) List(ctx context.Context, userID string) ([]*core.Session, error) {
	log := logrus.WithField("user_id", userID)

	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		log.WithError(err).Error("Failed to read session index")
		return nil, err
	}

	sessions := make([]*core.Session, 0, len(ids))
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.sessionKey(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			log.WithError(err).Error("Failed to load sessions")
			return nil, err
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				log.Warnf("Indexed session %s is missing, skipping", ids[i])
				continue
			}
			var session core.Session
			if err := json.Unmarshal([]byte(raw), &session); err != nil {
				log.WithError(err).Warnf("Failed to decode session %s, skipping", ids[i])
				continue
			}
			sessions = append(sessions, session.Summary())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	log.Infof("Listed %d sessions", len(sessions))
	return sessions, nil
}

func (s *redisStore) Get(ctx context.Context, id string) (*core.Session, error) {
	log := logrus.WithField("session_id", id)

	session, err := getSession(ctx, s.client, s.sessionKey(id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			log.Warn("Session with specified ID not found")
			return nil, fmt.Errorf("%w: session %s", core.ErrNotFound, id)
		}
		log.WithError(err).Error("Failed to retrieve session")
		return nil, err
	}

	log.Info("Session retrieved successfully")
	return session, nil
}

func (s *redisStore) Save(ctx context.Context, session *core.Session) error {
	if session.ID == "" {
		// A fresh id cannot collide, so no key needs watching.
		return s.save(ctx, nil, nil, session)
	}

	key := s.sessionKey(session.ID)
	txf := func(tx *redis.Tx) error {
		existing, err := getSession(ctx, tx, key)
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		return s.save(ctx, tx, existing, session)
	}

	// Retry when another writer changes the session between WATCH and EXEC.
	incoming := *session
	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		*session = incoming
	}
	return fmt.Errorf("save session %s: too much contention", session.ID)
}

// save stamps session against existing and writes it. With a nil tx the
// writes go straight through a pipeline.
func (s *redisStore) save(ctx context.Context, tx *redis.Tx, existing, session *core.Session) error {
	if err := core.PrepareSave(existing, session, s.now()); err != nil {
		return err
	}

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"user_id":     session.UserID,
		"version":     session.Version,
		"data_length": len(session.Data),
	})

	write := func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(session.ID), data, 0)
		pipe.SAdd(ctx, s.userKey(session.UserID), session.ID)
		return nil
	}
	if tx != nil {
		_, err = tx.TxPipelined(ctx, write)
	} else {
		_, err = s.client.TxPipelined(ctx, write)
	}
	if err != nil {
		if !errors.Is(err, redis.TxFailedErr) {
			log.WithError(err).Error("Failed to save session")
		}
		return err
	}

	log.Info("Session saved successfully")
	return nil
}

func (s *redisStore) Delete(ctx context.Context, userID, id string) error {
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": id})
	key := s.sessionKey(id)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		session, err := getSession(ctx, tx, key)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				log.Warn("Session not found for deletion")
				return fmt.Errorf("%w: session %s", core.ErrNotFound, id)
			}
			return err
		}
		if session.UserID != userID {
			log.Warn("Refusing to delete session owned by another user")
			return fmt.Errorf("%w: session %s belongs to another user", core.ErrForbidden, id)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.userKey(userID), id)
			pipe.ZRem(ctx, s.roomsKey(), id)
			return nil
		})
		if err != nil {
			log.WithError(err).Error("Failed to delete session")
			return err
		}
		log.Info("Session deleted successfully")
		return nil
	}, key)
}

func (s *redisStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: room id is required", core.ErrInvalidArgument)
	}
	return s.client.ZAdd(ctx, s.roomsKey(), redis.Z{
		Score:  float64(s.now().UnixMilli()),
		Member: roomID,
	}).Err()
}

func (s *redisStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	entries, err := s.client.ZRevRangeWithScores(ctx, s.roomsKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	rooms := make([]core.Room, 0, len(entries))
	for _, e := range entries {
		id, _ := e.Member.(string)
		rooms = append(rooms, core.Room{ID: id, LastActive: int64(e.Score)})
	}
	return rooms, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getSession(ctx context.Context, c getter, key string) (*core.Session, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var session core.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &session, nil
}
