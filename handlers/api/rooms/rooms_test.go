package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"wallora-server/core"
	"wallora-server/handlers/auth"
	"wallora-server/middleware"
	"wallora-server/stores/memory"
)

type failingRegistry struct{}

func (failingRegistry) ListRooms(ctx context.Context) ([]core.Room, error) {
	return nil, errors.New("redis down")
}
func (failingRegistry) TouchRoom(ctx context.Context, roomID string) error { return nil }

func saveSession(t *testing.T, store core.SessionStore, owner, name string, sharing *core.Sharing) string {
	t.Helper()
	s := &core.Session{UserID: owner, Name: name, Sharing: sharing, Data: []byte(`{}`)}
	if err := store.Save(context.Background(), s); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	return s.ID
}

func listRooms(t *testing.T, h http.HandlerFunc, user string) (int, []RoomInfo) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	claims := &auth.AppClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: user}}
	req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	rr := httptest.NewRecorder()
	h(rr, req)

	var rooms []RoomInfo
	if rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), &rooms); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return rr.Code, rooms
}

func TestHandleListRooms(t *testing.T) {
	store := memory.NewStore()
	own := saveSession(t, store, "alice", "Kitchen", nil)
	public := saveSession(t, store, "bob", "Gallery", &core.Sharing{Type: core.SharePublic})
	private := saveSession(t, store, "bob", "Diary", nil)

	store.TouchRoom(context.Background(), own)
	store.TouchRoom(context.Background(), private)
	store.TouchRoom(context.Background(), "deleted-session")

	active := func() map[string]int {
		return map[string]int{public: 3, own: 1}
	}

	code, rooms := listRooms(t, HandleListRooms(store, store, active), "alice")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(rooms) != 2 {
		t.Fatalf("Expected 2 visible rooms, got %+v", rooms)
	}
	if rooms[0].ID != public || rooms[0].Users != 3 || rooms[0].Name != "Gallery" {
		t.Errorf("first room = %+v", rooms[0])
	}
	if rooms[1].ID != own || rooms[1].Users != 1 || rooms[1].LastActive == 0 {
		t.Errorf("second room = %+v", rooms[1])
	}
}

func TestHandleListRooms_NoRegistry(t *testing.T) {
	store := memory.NewStore()
	id := saveSession(t, store, "alice", "Kitchen", nil)

	code, rooms := listRooms(t, HandleListRooms(store, nil, func() map[string]int { return map[string]int{id: 2} }), "alice")
	if code != http.StatusOK || len(rooms) != 1 || rooms[0].LastActive != 0 {
		t.Errorf("status %d, rooms %+v", code, rooms)
	}

	code, rooms = listRooms(t, HandleListRooms(store, nil, nil), "alice")
	if code != http.StatusOK || len(rooms) != 0 {
		t.Errorf("status %d, rooms %+v", code, rooms)
	}
}

func TestHandleListRooms_RegistryError(t *testing.T) {
	code, _ := listRooms(t, HandleListRooms(memory.NewStore(), failingRegistry{}, nil), "alice")
	if code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", code)
	}
}
