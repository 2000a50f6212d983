package core

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

type (
	// ShareType controls who besides the owner may open a session.
	ShareType string

	// Sharing is the access policy attached to a session. Editors may save,
	// viewers may only load. Public and view shares are readable by anyone
	// holding the link. Identities are user subjects or emails.
	Sharing struct {
		Type    ShareType `json:"type"`
		Editors []string  `json:"editors"`
		Viewers []string  `json:"viewers"`
	}

	// Session is a persisted wall. Data holds the encoded session document.
	Session struct {
		ID        string    `json:"id"`
		UserID    string    `json:"userId"`
		Name      string    `json:"name"`
		Thumbnail []byte    `json:"thumbnail,omitempty"`
		Data      []byte    `json:"data,omitempty"` // omitted in list views
		Sharing   *Sharing  `json:"sharing,omitempty"`
		Version   int64     `json:"version"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// SessionStore persists sessions. Save is a full replace.
	//
	// When session.Version is non-zero it must match the stored version,
	// otherwise Save returns ErrVersionConflict. A zero version skips the
	// check (last write wins). On success Save sets ID (for new sessions),
	// Version, CreatedAt and UpdatedAt on the passed session.
	SessionStore interface {
		List(ctx context.Context, userID string) ([]*Session, error)
		Get(ctx context.Context, id string) (*Session, error)
		Save(ctx context.Context, session *Session) error
		Delete(ctx context.Context, userID, id string) error
	}

	// Snapshot is a named copy of a session document taken at some point in
	// time. Data is omitted in list views.
	Snapshot struct {
		ID        string    `json:"id"`
		SessionID string    `json:"sessionId"`
		Name      string    `json:"name"`
		CreatedBy string    `json:"createdBy"`
		Version   int64     `json:"version"`
		Thumbnail []byte    `json:"thumbnail,omitempty"`
		Data      []byte    `json:"data,omitempty"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// SnapshotStore keeps a bounded history per session. Creating a snapshot
	// beyond the limit drops the oldest one.
	SnapshotStore interface {
		CreateSnapshot(ctx context.Context, snapshot *Snapshot) error
		ListSnapshots(ctx context.Context, sessionID string) ([]*Snapshot, error)
		GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
		DeleteSnapshot(ctx context.Context, id string) error
	}

	Room struct {
		ID         string
		LastActive int64
	}

	// RoomRegistry tracks collaboration rooms (one per shared session).
	RoomRegistry interface {
		ListRooms(ctx context.Context) ([]Room, error)
		TouchRoom(ctx context.Context, roomID string) error
	}

	// User is the identity carried in access tokens.
	User struct {
		Subject   string `json:"subject"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatarUrl"`
		Name      string `json:"name"`
	}
)

const (
	SharePrivate ShareType = "private"
	SharePublic  ShareType = "public"
	ShareView    ShareType = "view"
)

// Valid reports whether t is a known share type.
func (t ShareType) Valid() bool {
	switch t {
	case SharePrivate, SharePublic, ShareView:
		return true
	}
	return false
}

// CanRead reports whether identity may load the session.
func (s *Session) CanRead(identities ...string) bool {
	if s.CanWrite(identities...) {
		return true
	}
	if s.Sharing == nil {
		return false
	}
	if s.Sharing.Type == SharePublic || s.Sharing.Type == ShareView {
		return true
	}
	return containsAny(s.Sharing.Viewers, identities)
}

// CanWrite reports whether identity may save the session.
func (s *Session) CanWrite(identities ...string) bool {
	if containsAny([]string{s.UserID}, identities) {
		return true
	}
	if s.Sharing == nil {
		return false
	}
	return containsAny(s.Sharing.Editors, identities)
}

func containsAny(list, identities []string) bool {
	for _, id := range identities {
		if id == "" {
			continue
		}
		for _, v := range list {
			if v == id {
				return true
			}
		}
	}
	return false
}

// PrepareSave checks an incoming save against the stored session (nil for a
// new one) and stamps the fields a store is responsible for. Ownership and,
// when the incoming session carries none, the sharing policy are kept from
// the stored session.
func PrepareSave(existing, s *Session, now time.Time) error {
	if s.UserID == "" {
		return fmt.Errorf("%w: session owner is required", ErrInvalidArgument)
	}
	if existing == nil {
		if s.Version != 0 {
			return fmt.Errorf("%w: session %s does not exist yet", ErrVersionConflict, s.ID)
		}
		if s.ID == "" {
			s.ID = ulid.Make().String()
		}
		s.Version = 1
		s.CreatedAt = now
		s.UpdatedAt = now
		return nil
	}

	if s.Version != 0 && s.Version != existing.Version {
		return fmt.Errorf("%w: session %s is at version %d, got %d", ErrVersionConflict, s.ID, existing.Version, s.Version)
	}
	s.UserID = existing.UserID
	if s.Sharing == nil {
		s.Sharing = existing.Sharing
	}
	s.Version = existing.Version + 1
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = now
	return nil
}

// Summary returns a copy without the document payload, for list views.
func (s *Session) Summary() *Session {
	c := *s
	c.Data = nil
	return &c
}
