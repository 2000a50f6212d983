// Package rooms lists the collaboration rooms a user can see.
package rooms

import (
	"net/http"
	"sort"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"wallora-server/core"
	"wallora-server/handlers/api/httperr"
	"wallora-server/handlers/api/sessions"
)

type RoomInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Users      int    `json:"users"`
	LastActive int64  `json:"lastActive,omitempty"`
}

// HandleListRooms merges the rooms with connected users (active) with the
// rooms recorded by registry, which may be nil. Rooms whose session the
// caller cannot read, or which no longer exist, are left out.
func HandleListRooms(store core.SessionStore, registry core.RoomRegistry, active func() map[string]int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := sessions.ClaimsFrom(w, r)
		if !ok {
			return
		}

		merged := make(map[string]*RoomInfo)
		if active != nil {
			for id, users := range active() {
				merged[id] = &RoomInfo{ID: id, Users: users}
			}
		}
		if registry != nil {
			recorded, err := registry.ListRooms(r.Context())
			if err != nil {
				httperr.Render(w, r, err, "Failed to list rooms")
				return
			}
			for _, room := range recorded {
				info, ok := merged[room.ID]
				if !ok {
					info = &RoomInfo{ID: room.ID}
					merged[room.ID] = info
				}
				info.LastActive = room.LastActive
			}
		}

		out := make([]RoomInfo, 0, len(merged))
		for id, info := range merged {
			session, err := store.Get(r.Context(), id)
			if err != nil {
				logrus.WithError(err).WithField("session_id", id).Debug("Skipping room")
				continue
			}
			if !session.CanRead(claims.Identities()...) {
				continue
			}
			info.Name = session.Name
			out = append(out, *info)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Users != out[j].Users {
				return out[i].Users > out[j].Users
			}
			if out[i].LastActive != out[j].LastActive {
				return out[i].LastActive > out[j].LastActive
			}
			return out[i].ID < out[j].ID
		})

		render.JSON(w, r, out)
	}
}
