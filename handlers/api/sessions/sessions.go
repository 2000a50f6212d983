// Package sessions serves the saved-wall API: listing, loading, saving,
// sharing, automatic arrangement and thumbnails.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"wallora-server/codec"
	"wallora-server/core"
	"wallora-server/handlers/api/httperr"
	"wallora-server/handlers/auth"
	"wallora-server/layout"
	"wallora-server/middleware"
	"wallora-server/thumbnail"
	"wallora-server/wall"
)

const (
	maxDocumentBytes = 50 << 20
	defaultName      = "Untitled wall"
	shareAttempts    = 3
)

type (
	// Notifier is told about every successful save.
	Notifier interface {
		SessionSaved(sessionID string, version int64, savedBy string)
	}

	// Saver encodes a wall, renders its thumbnail, stores the session and
	// announces the new version.
	Saver struct {
		Store          core.SessionStore
		Notifier       Notifier
		ThumbnailWidth int
		now            func() time.Time
	}

	SaveResponse struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Version   int64     `json:"version"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	ArrangeRequest struct {
		Strategy string `json:"strategy"`
	}

	ArrangeResponse struct {
		Layout  layout.Candidate `json:"layout"`
		Version int64            `json:"version"`
	}
)

// Save stamps session with the encoded wall and its thumbnail and persists
// it. session.Version carries the optimistic concurrency check.
func (s *Saver) Save(ctx context.Context, session *core.Session, w *wall.Wall, savedBy string) error {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	if session.Name == "" {
		session.Name = defaultName
	}

	data, err := codec.Marshal(w, codec.Meta{Name: session.Name, UserID: session.UserID, EditedBy: savedBy, Timestamp: now()})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	session.Data = data

	thumb, err := thumbnail.Render(w, s.ThumbnailWidth)
	if err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).Warn("Failed to render thumbnail")
	}
	session.Thumbnail = thumb

	if err := s.Store.Save(ctx, session); err != nil {
		return err
	}
	if s.Notifier != nil {
		s.Notifier.SessionSaved(session.ID, session.Version, savedBy)
	}
	return nil
}

// ClaimsFrom answers 401 when the request carries no claims.
func ClaimsFrom(w http.ResponseWriter, r *http.Request) (*auth.AppClaims, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		httperr.Write(w, r, http.StatusUnauthorized, "User claims not found")
	}
	return claims, ok
}

// IfMatchVersion reads the expected session version from If-Match. A
// missing header means no version check.
func IfMatchVersion(r *http.Request) (int64, error) {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	if v == "" || v == "*" {
		return 0, nil
	}
	v = strings.Trim(strings.TrimPrefix(v, "W/"), `"`)
	version, err := strconv.ParseInt(v, 10, 64)
	if err != nil || version < 1 {
		return 0, fmt.Errorf("%w: If-Match must carry a session version", core.ErrInvalidArgument)
	}
	return version, nil
}

func setETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}

func readDocument(w http.ResponseWriter, r *http.Request) (*wall.Wall, codec.Meta, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		return nil, codec.Meta{}, fmt.Errorf("%w: failed to read request body: %v", core.ErrInvalidArgument, err)
	}
	defer r.Body.Close()
	return codec.Unmarshal(body)
}

// loadWritable fetches a session the caller may save to.
func loadWritable(ctx context.Context, store core.SessionStore, claims *auth.AppClaims, id string) (*core.Session, error) {
	session, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.CanWrite(claims.Identities()...) {
		return nil, fmt.Errorf("%w: no write access to session %s", core.ErrForbidden, id)
	}
	return session, nil
}

// RespondSaved answers a successful save with the new version as ETag.
func RespondSaved(w http.ResponseWriter, r *http.Request, status int, session *core.Session) {
	setETag(w, session.Version)
	render.Status(r, status)
	render.JSON(w, r, SaveResponse{
		ID:        session.ID,
		Name:      session.Name,
		Version:   session.Version,
		UpdatedAt: session.UpdatedAt,
	})
}

func HandleListSessions(store core.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(w, r)
		if !ok {
			return
		}

		sessions, err := store.List(r.Context(), claims.Subject)
		if err != nil {
			httperr.Render(w, r, err, "Failed to list sessions")
			return
		}
		if sessions == nil {
			sessions = []*core.Session{}
		}

		render.JSON(w, r, sessions)
	}
}

func HandleCreateSession(saver *Saver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(w, r)
		if !ok {
			return
		}

		wl, meta, err := readDocument(w, r)
		if err != nil {
			httperr.Render(w, r, err, "Failed to read session")
			return
		}

		session := &core.Session{UserID: claims.Subject, Name: meta.Name}
		if err := saver.Save(r.Context(), session, wl, claims.Subject); err != nil {
			httperr.Render(w, r, err, "Failed to save session")
			return
		}

		logrus.WithFields(logrus.Fields{
			"session_id": session.ID,
			"user_id":    claims.Subject,
		}).Info("Session created")
		RespondSaved(w, r, http.StatusCreated, session)
	}
}

func HandleGetSession(store core.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		session, err := store.Get(r.Context(), id)
		if err != nil {
			httperr.Render(w, r, err, "Failed to load session")
			return
		}
		if !session.CanRead(claims.Identities()...) {
			httperr.Write(w, r, http.StatusForbidden, "No access to this session")
			return
		}

		setETag(w, session.Version)
		w.Header().Set("Content-Type", "application/json")
		w.Write(session.Data)
	}
}

func HandleUpdateSession(saver *Saver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		version, err := IfMatchVersion(r)
		if err != nil {
			httperr.Render(w, r, err, "")
			return
		}
		wl, meta, err := readDocument(w, r)
		if err != nil {
			httperr.Render(w, r, err, "Failed to read session")
			return
		}
		existing, err := loadWritable(r.Context(), saver.Store, claims, id)
		if err != nil {
			httperr.Render(w, r, err, "Failed to load session")
			return
		}

		name := meta.Name
		if name == "" {
			name = existing.Name
		}
		session := &core.Session{ID: id, UserID: existing.UserID, Name: name, Version: version}
		if err := saver.Save(r.Context(), session, wl, claims.Subject); err != nil {
			httperr.Render(w, r, err, "Failed to save session")
			return
		}

		RespondSaved(w, r, http.StatusOK, session)
	}
}

func HandleDeleteSession(store core.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		if err := store.Delete(r.Context(), claims.Subject, id); err != nil {
			httperr.Render(w, r, err, "Failed to delete session")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleGetShare(store core.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(w, r)
		if !ok {
			return
		}

		session, err := loadWritable(r.Context(), store, claims, chi.URLParam(r, "id"))
		if err != nil {
			httperr.Render(w, r, err, "Failed to load session")
			return
		}

		render.JSON(w, r, normalizeSharing(session.Sharing))
	}
}

func HandlePutShare(store core.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		var sharing core.Sharing
		if err := render.DecodeJSON(io.LimitReader(r.Body, 1<<20), &sharing); err != nil {
			httperr.Write(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if !sharing.Type.Valid() {
			httperr.Write(w, r, http.StatusBadRequest, fmt.Sprintf("Unknown share type %q", sharing.Type))
			return
		}

		normalized := normalizeSharing(&sharing)
		var session *core.Session
		for attempt := 1; ; attempt++ {
			var err error
			session, err = store.Get(r.Context(), id)
			if err != nil {
				httperr.Render(w, r, err, "Failed to load session")
				return
			}
			if session.UserID != claims.Subject {
				httperr.Write(w, r, http.StatusForbidden, "Only the owner can change sharing")
				return
			}

			// Saved at the loaded version so a concurrent content save is
			// never overwritten; reload and retry instead.
			session.Sharing = normalized
			err = store.Save(r.Context(), session)
			if err == nil {
				break
			}
			if !errors.Is(err, core.ErrVersionConflict) || attempt == shareAttempts {
				httperr.Render(w, r, err, "Failed to save sharing")
				return
			}
		}

		logrus.WithFields(logrus.Fields{
			"session_id": id,
			"share_type": normalized.Type,
		}).Info("Session sharing updated")
		setETag(w, session.Version)
		render.JSON(w, r, normalized)
	}
}

func normalizeSharing(s *core.Sharing) *core.Sharing {
	out := &core.Sharing{Type: core.SharePrivate, Editors: []string{}, Viewers: []string{}}
	if s == nil {
		return out
	}
	out.Type = s.Type
	out.Editors = append(out.Editors, s.Editors...)
	out.Viewers = append(out.Viewers, s.Viewers...)
	return out
}

// HandleArrange applies a layout strategy to the stored items, keeping their
// sizes, and saves the result.
func HandleArrange(saver *Saver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		var req ArrangeRequest
		if err := render.DecodeJSON(io.LimitReader(r.Body, 1<<20), &req); err != nil {
			httperr.Write(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		version, err := IfMatchVersion(r)
		if err != nil {
			httperr.Render(w, r, err, "")
			return
		}

		existing, err := loadWritable(r.Context(), saver.Store, claims, id)
		if err != nil {
			httperr.Render(w, r, err, "Failed to load session")
			return
		}
		if version != 0 && version != existing.Version {
			httperr.Render(w, r, fmt.Errorf("%w: session %s is at version %d", core.ErrVersionConflict, id, existing.Version), "")
			return
		}

		wl, _, err := codec.Unmarshal(existing.Data)
		if err != nil {
			httperr.Render(w, r, err, "Failed to decode session")
			return
		}
		candidate, err := layout.Arrange(wl, req.Strategy)
		if err != nil {
			httperr.Render(w, r, err, "Failed to arrange session")
			return
		}

		// Checked against the loaded version, so a concurrent save wins.
		session := &core.Session{ID: id, UserID: existing.UserID, Name: existing.Name, Version: existing.Version}
		if err := saver.Save(r.Context(), session, wl, claims.Subject); err != nil {
			httperr.Render(w, r, err, "Failed to save session")
			return
		}

		setETag(w, session.Version)
		render.JSON(w, r, ArrangeResponse{Layout: candidate, Version: session.Version})
	}
}

func HandleGetThumbnail(store core.SessionStore, width int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		session, err := store.Get(r.Context(), id)
		if err != nil {
			httperr.Render(w, r, err, "Failed to load session")
			return
		}
		if !session.CanRead(claims.Identities()...) {
			httperr.Write(w, r, http.StatusForbidden, "No access to this session")
			return
		}

		png := session.Thumbnail
		if len(png) == 0 {
			wl, _, err := codec.Unmarshal(session.Data)
			if err == nil {
				png, err = thumbnail.Render(wl, width)
			}
			if err != nil {
				httperr.Render(w, r, err, "Failed to render thumbnail")
				return
			}
		}

		setETag(w, session.Version)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(png)
	}
}
