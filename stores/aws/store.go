package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"wallora-server/core"
)

const (
	sessionPrefix = "sessions/"
	userPrefix    = "users/"
)

// s3API is the subset of the S3 client the store relies on.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Store keeps each session as sessions/{id}.json. An empty marker object
// users/{userID}/{id} indexes sessions by owner for List.
type s3Store struct {
	client s3API
	bucket string
	// mu serializes read-check-write cycles of Save and Delete within this
	// process.
	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a new S3-based store using the default AWS credential
// chain. A non-empty endpoint targets an S3 compatible service.
func NewStore(ctx context.Context, bucketName, endpoint string) (*s3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return newStore(client, bucketName), nil
}

func newStore(client s3API, bucket string) *s3Store {
	return &s3Store{client: client, bucket: bucket, now: time.Now}
}

func sessionKey(id string) (string, error) {
	// Ids must be simple names so they cannot escape the key prefix.
	if id == "" || id == "." || id == ".." || path.Base(id) != id || strings.Contains(id, `\`) {
		return "", fmt.Errorf("%w: invalid session id %q", core.ErrInvalidArgument, id)
	}
	return sessionPrefix + id + ".json", nil
}

func ownerKey(userID, id string) string {
	return userPrefix + userID + "/" + id
}

func (s *s3Store) List(ctx context.Context, userID string) ([]*core.Session, error) {
	log := logrus.WithField("user_id", userID)
	prefix := userPrefix + userID + "/"

	sessions := make([]*core.Session, 0)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to list session index")
			return nil, fmt.Errorf("list sessions for user %s: %w", userID, err)
		}
		for _, object := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(object.Key), prefix)
			session, err := s.Get(ctx, id)
			if err != nil {
				log.WithError(err).Warnf("Skipping indexed session %s", id)
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

func (s *s3Store) Get(ctx context.Context, id string) (*core.Session, error) {
	key, err := sessionKey(id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"session_id": id, "key": key})

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Warn("Session object not found")
			return nil, fmt.Errorf("%w: session %s", core.ErrNotFound, id)
		}
		log.WithError(err).Error("Failed to get session object")
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var session core.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}

	log.Info("Session retrieved successfully")
	return &session, nil
}

func (s *s3Store) Save(ctx context.Context, session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *core.Session
	if session.ID != "" {
		var err error
		existing, err = s.Get(ctx, session.ID)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
	}
	if err := core.PrepareSave(existing, session, s.now()); err != nil {
		return err
	}

	key, err := sessionKey(session.ID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"user_id":     session.UserID,
		"version":     session.Version,
		"data_length": len(session.Data),
	})

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		log.WithError(err).Error("Failed to put session object")
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}

	if existing == nil {
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(ownerKey(session.UserID, session.ID)),
			Body:   bytes.NewReader(nil),
		})
		if err != nil {
			log.WithError(err).Error("Failed to index session")
			return fmt.Errorf("index session %s: %w", session.ID, err)
		}
	}

	log.Info("Session saved successfully")
	return nil
}

func (s *s3Store) Delete(ctx context.Context, userID, id string) error {
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

	key, _ := sessionKey(id)
	for _, k := range []string{key, ownerKey(userID, id)} {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(k),
		})
		if err != nil {
			log.WithError(err).Error("Failed to delete session object")
			return fmt.Errorf("delete session %s: %w", id, err)
		}
	}

	log.Info("Session deleted successfully")
	return nil
}
