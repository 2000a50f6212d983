// Package snapshots serves the per-session snapshot history: taking named
// copies of a wall and restoring them.
package snapshots

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"wallora-server/codec"
	"wallora-server/core"
	"wallora-server/handlers/api/httperr"
	"wallora-server/handlers/api/sessions"
	"wallora-server/handlers/auth"
)

type (
	CreateSnapshotRequest struct {
		Name string `json:"name"`
	}

	CreateSnapshotResponse struct {
		ID      string `json:"id"`
		Version int64  `json:"version"`
	}
)

// access is the permission a snapshot operation needs on its session.
type access int

const (
	read access = iota
	write
)

func loadSession(ctx context.Context, store core.SessionStore, claims *auth.AppClaims, id string, need access) (*core.Session, error) {
	session, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := session.CanRead(claims.Identities()...)
	if need == write {
		allowed = session.CanWrite(claims.Identities()...)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: no access to session %s", core.ErrForbidden, id)
	}
	return session, nil
}

// loadSnapshot fetches a snapshot and checks it belongs to sessionID. A
// snapshot of another session is reported as missing.
func loadSnapshot(ctx context.Context, store core.SnapshotStore, sessionID, id string) (*core.Snapshot, error) {
	snapshot, err := store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if snapshot.SessionID != sessionID {
		return nil, fmt.Errorf("%w: snapshot %s", core.ErrNotFound, id)
	}
	return snapshot, nil
}

// HandleCreateSnapshot copies the current session document into a new
// snapshot.
func HandleCreateSnapshot(store core.SessionStore, snapshots core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := sessions.ClaimsFrom(w, r)
		if !ok {
			return
		}
		sessionID := chi.URLParam(r, "id")

		var req CreateSnapshotRequest
		if r.ContentLength != 0 {
			if err := render.DecodeJSON(io.LimitReader(r.Body, 1<<20), &req); err != nil && err != io.EOF {
				logrus.WithError(err).Error("Failed to decode request")
				httperr.Write(w, r, http.StatusBadRequest, "Invalid request body")
				return
			}
		}

		session, err := loadSession(r.Context(), store, claims, sessionID, write)
		if err != nil {
			httperr.Render(w, r, err, "Failed to load session")
			return
		}

		name := req.Name
		if name == "" {
			name = fmt.Sprintf("%s (v%d)", session.Name, session.Version)
		}
		snapshot := &core.Snapshot{
			SessionID: session.ID,
			Name:      name,
			CreatedBy: claims.Subject,
			Version:   session.Version,
			Thumbnail: session.Thumbnail,
			Data:      session.Data,
		}
		if err := snapshots.CreateSnapshot(r.Context(), snapshot); err != nil {
			httperr.Render(w, r, err, "Failed to create snapshot")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateSnapshotResponse{ID: snapshot.ID, Version: snapshot.Version})
	}
}

// HandleListSnapshots lists the snapshots of a session, newest first.
func HandleListSnapshots(store core.SessionStore, snapshots core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := sessions.ClaimsFrom(w, r)
		if !ok {
			return
		}
		sessionID := chi.URLParam(r, "id")

		if _, err := loadSession(r.Context(), store, claims, sessionID, read); err != nil {
			httperr.Render(w, r, err, "Failed to load session")
			return
		}

		list, err := snapshots.ListSnapshots(r.Context(), sessionID)
		if err != nil {
			httperr.Render(w, r, err, "Failed to list snapshots")
			return
		}
		if list == nil {
			list = []*core.Snapshot{}
		}

		render.JSON(w, r, list)
	}
}

// HandleGetSnapshot retrieves a specific snapshot
func HandleGetSnapshot(store core.SessionStore, snapshots core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := sessions.ClaimsFrom(w, r)
		if !ok {
			return
		}
		sessionID := chi.URLParam(r, "id")

		if _, err := loadSession(r.Context(), store, claims, sessionID, read); err != nil {
			httperr.Render(w, r, err, "Failed to load session")
			return
		}
		snapshot, err := loadSnapshot(r.Context(), snapshots, sessionID, chi.URLParam(r, "snapshotId"))
		if err != nil {
			httperr.Render(w, r, err, "Failed to get snapshot")
			return
		}

		render.JSON(w, r, snapshot)
	}
}

// HandleDeleteSnapshot deletes a snapshot
func HandleDeleteSnapshot(store core.SessionStore, snapshots core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := sessions.ClaimsFrom(w, r)
		if !ok {
			return
		}
		sessionID := chi.URLParam(r, "id")
		snapshotID := chi.URLParam(r, "snapshotId")

		if _, err := loadSession(r.Context(), store, claims, sessionID, write); err != nil {
			httperr.Render(w, r, err, "Failed to load session")
			return
		}
		if _, err := loadSnapshot(r.Context(), snapshots, sessionID, snapshotID); err != nil {
			httperr.Render(w, r, err, "Failed to get snapshot")
			return
		}
		if err := snapshots.DeleteSnapshot(r.Context(), snapshotID); err != nil {
			httperr.Render(w, r, err, "Failed to delete snapshot")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleRestoreSnapshot saves the snapshot's document as the next version of
// its session. If-Match guards against overwriting a newer save.
func HandleRestoreSnapshot(saver *sessions.Saver, snapshots core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := sessions.ClaimsFrom(w, r)
		if !ok {
			return
		}
		sessionID := chi.URLParam(r, "id")
		snapshotID := chi.URLParam(r, "snapshotId")

		version, err := sessions.IfMatchVersion(r)
		if err != nil {
			httperr.Render(w, r, err, "")
			return
		}
		existing, err := loadSession(r.Context(), saver.Store, claims, sessionID, write)
		if err != nil {
			httperr.Render(w, r, err, "Failed to load session")
			return
		}
		snapshot, err := loadSnapshot(r.Context(), snapshots, sessionID, snapshotID)
		if err != nil {
			httperr.Render(w, r, err, "Failed to get snapshot")
			return
		}

		wl, _, err := codec.Unmarshal(snapshot.Data)
		if err != nil {
			httperr.Render(w, r, err, "Failed to decode snapshot")
			return
		}
		session := &core.Session{ID: sessionID, UserID: existing.UserID, Name: existing.Name, Version: version}
		if err := saver.Save(r.Context(), session, wl, claims.Subject); err != nil {
			httperr.Render(w, r, err, "Failed to restore snapshot")
			return
		}

		logrus.WithFields(logrus.Fields{
			"session_id":  sessionID,
			"snapshot_id": snapshotID,
			"version":     session.Version,
		}).Info("Snapshot restored")
		sessions.RespondSaved(w, r, http.StatusOK, session)
	}
}
