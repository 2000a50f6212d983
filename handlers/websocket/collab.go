// Package websocket runs the Socket.IO collaboration rooms. Each shared
// session has one room, named after the session id; clients relay their
// edits through it and are told when the session is saved.
package websocket

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/engine.io/v2/utils"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"wallora-server/core"
)

type ackInvoker func(err error, payload map[string]any)

// Hub owns the Socket.IO server and the live user count per room.
type Hub struct {
	srv      *socketio.Server
	sessions core.SessionStore
	registry core.RoomRegistry

	mu     sync.RWMutex
	active map[string]int
}

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// NewHub creates the Socket.IO server. registry may be nil; when set, every
// save and every join of an existing session marks the room active in it.
// allowedOrigins "*" accepts any origin.
func NewHub(sessions core.SessionStore, registry core.RoomRegistry, allowedOrigins []string) *Hub {
	h := newHub(sessions, registry)

	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      corsOrigin(allowedOrigins),
		Credentials: true,
	})
	h.srv = socketio.NewServer(nil, opts)
	h.setup()
	return h
}

func newHub(sessions core.SessionStore, registry core.RoomRegistry) *Hub {
	return &Hub{sessions: sessions, registry: registry, active: make(map[string]int)}
}

func corsOrigin(allowed []string) any {
	origins := []any{"tauri://localhost", localhostOrigin}
	for _, o := range allowed {
		if o == "*" {
			return "*"
		}
		origins = append(origins, o)
	}
	return origins
}

// Server is the Socket.IO server to mount at /socket.io/.
func (h *Hub) Server() *socketio.Server {
	return h.srv
}

// ActiveRooms returns the number of connected users per room.
func (h *Hub) ActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make(map[string]int, len(h.active))
	for k, v := range h.active {
		rooms[k] = v
	}
	return rooms
}

func (h *Hub) setActive(roomID string, users int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if users <= 0 {
		delete(h.active, roomID)
		return
	}
	h.active[roomID] = users
}

func (h *Hub) touch(roomID string) {
	if h.registry == nil {
		return
	}
	if err := h.registry.TouchRoom(context.Background(), roomID); err != nil {
		logrus.WithError(err).WithField("session_id", roomID).Warn("Failed to record room activity")
	}
}

// touchJoined records a join only for rooms named after a stored session, so
// clients cannot fill the registry with made-up ids.
func (h *Hub) touchJoined(roomID string) {
	if h.registry == nil || h.sessions == nil {
		return
	}
	if _, err := h.sessions.Get(context.Background(), roomID); err != nil {
		logrus.WithField("session_id", roomID).Debug("Not recording activity for unknown session")
		return
	}
	h.touch(roomID)
}

// SessionSaved tells everyone in the session's room that a new version was
// stored.
func (h *Hub) SessionSaved(sessionID string, version int64, savedBy string) {
	h.touch(sessionID)
	if h.srv == nil {
		return
	}
	if err := h.srv.To(socketio.Room(sessionID)).Emit("session-saved", savedPayload(sessionID, version, savedBy)); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Warn("Failed to announce session save")
	}
}

func savedPayload(sessionID string, version int64, savedBy string) map[string]any {
	return map[string]any{
		"sessionId": sessionID,
		"version":   version,
		"savedBy":   savedBy,
	}
}

// roomArg returns the room id passed as the first event argument.
func roomArg(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("session id is required")
	}
	roomID, ok := args[0].(string)
	if !ok || roomID == "" {
		return "", fmt.Errorf("invalid session id")
	}
	return roomID, nil
}

func errorAck(err error) map[string]any {
	return map[string]any{"status": "error", "error": err.Error()}
}

func (h *Hub) setup() {
	srv := h.srv

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		me := socket.Id()
		myRoom := socketio.Room(me)
		_ = srv.To(myRoom).Emit("init-room")
		utils.Log().Printf("init room %v\n", myRoom)

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("join-session", func(datas ...any) {
			ack, args := extractAck(datas)
			roomID, err := roomArg(args)
			if err != nil {
				respondWithAck(socket, ack, "join-session-ack", errorAck(err), err)
				return
			}

			room := socketio.Room(roomID)
			socket.Join(room)
			h.touchJoined(roomID)
			utils.Log().Printf("Socket %v has joined %v\n", me, room)

			srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, fetchErr error) {
				if fetchErr != nil {
					respondWithAck(socket, ack, "join-session-ack", errorAck(fetchErr), fetchErr)
					return
				}

				h.setActive(roomID, len(users))

				if len(users) <= 1 {
					_ = srv.To(myRoom).Emit("first-in-room")
				} else {
					utils.Log().Printf("emit new user %v in room %v\n", me, room)
					_ = socket.Broadcast().To(room).Emit("new-user", me)
				}

				srv.In(room).Emit("room-user-change", socketIDs(users, ""))

				respondWithAck(socket, ack, "join-session-ack", map[string]any{
					"status":     "ok",
					"user_count": len(users),
				}, nil)
			})
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("leave-session", func(datas ...any) {
			ack, args := extractAck(datas)
			roomID, err := roomArg(args)
			if err != nil {
				respondWithAck(socket, ack, "leave-session-ack", errorAck(err), err)
				return
			}

			room := socketio.Room(roomID)
			socket.Leave(room)
			utils.Log().Printf("Socket %v has left %v\n", me, room)
			h.announceRemaining(room, me)

			respondWithAck(socket, ack, "leave-session-ack", map[string]any{"status": "ok"}, nil)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("session-broadcast", func(datas ...any) {
			handleBroadcast(socket, datas, false)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("session-volatile-broadcast", func(datas ...any) {
			handleBroadcast(socket, datas, true)
		})

		socket.On("disconnecting", func(datas ...any) {
			for _, currentRoom := range socket.Rooms().Keys() {
				if currentRoom == myRoom {
					continue
				}
				h.announceRemaining(currentRoom, me)
			}
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})
}

// announceRemaining updates the room count without the departing socket and
// tells the remaining users.
func (h *Hub) announceRemaining(room socketio.Room, leaving socketio.SocketId) {
	h.srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, _ error) {
		others := socketIDs(users, leaving)
		h.setActive(string(room), len(others))

		if len(others) > 0 {
			utils.Log().Printf("leaving user, room %v has users %v\n", room, others)
			h.srv.In(room).Emit("room-user-change", others)
		}
	})
}

func socketIDs(users []*socketio.RemoteSocket, except socketio.SocketId) []socketio.SocketId {
	ids := make([]socketio.SocketId, 0, len(users))
	for _, u := range users {
		if u.Id() != except {
			ids = append(ids, u.Id())
		}
	}
	return ids
}

func handleBroadcast(socket *socketio.Socket, datas []any, volatile bool) {
	roomID, payload, metadata, ack := parseBroadcastArgs(datas)
	if roomID == "" {
		err := fmt.Errorf("missing session id")
		respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, err), err)
		return
	}

	utils.Log().Printf(" user %v sends update to room %v\n", socket.Id(), roomID)

	var emitErr error
	if volatile {
		emitErr = socket.Volatile().Broadcast().To(socketio.Room(roomID)).Emit("client-broadcast", payload, metadata)
	} else {
		emitErr = socket.Broadcast().To(socketio.Room(roomID)).Emit("client-broadcast", payload, metadata)
	}

	if emitErr != nil {
		respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, emitErr), emitErr)
		return
	}

	respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, nil), nil)
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}

	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := buildAckArgs(typ, err, payload)
		value.Call(args)
	}
}

func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		paramType := typ.In(i)
		var argValue any

		switch {
		case numIn == 1:
			if err != nil {
				argValue = err
			} else {
				argValue = payload
			}
		case i == 0:
			argValue = err
		case i == 1:
			argValue = payload
		default:
			argValue = nil
		}

		args[i] = coerceValue(argValue, paramType)
	}

	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}

	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}

	if targetType.Kind() == reflect.Interface {
		if rv.Type().Implements(targetType) || targetType.NumMethod() == 0 {
			return rv
		}
	}

	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}

	if targetType.Kind() == reflect.Map && targetType.Key().Kind() == reflect.String {
		if payload, ok := value.(map[string]any); ok {
			return convertMap(payload, targetType)
		}
	}

	return reflect.Zero(targetType)
}

func convertMap(source map[string]any, targetType reflect.Type) reflect.Value {
	result := reflect.MakeMapWithSize(targetType, len(source))
	for key, val := range source {
		keyValue := reflect.ValueOf(key).Convert(targetType.Key())
		valueValue := reflect.ValueOf(val)
		if !valueValue.Type().AssignableTo(targetType.Elem()) {
			if valueValue.Type().ConvertibleTo(targetType.Elem()) {
				valueValue = valueValue.Convert(targetType.Elem())
			} else if targetType.Elem().Kind() != reflect.Interface {
				continue
			}
		}
		result.SetMapIndex(keyValue, valueValue)
	}
	return result
}

func respondWithAck(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}

	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}

func parseBroadcastArgs(datas []any) (roomID string, payload, metadata any, ack ackInvoker) {
	ack, args := extractAck(datas)
	if len(args) < 3 {
		return "", nil, nil, ack
	}

	roomID, _ = args[0].(string)
	payload = args[1]
	metadata = args[2]
	return roomID, payload, metadata, ack
}

func makeBroadcastAckPayload(original any, ackErr error) map[string]any {
	response := map[string]any{
		"status": "ok",
	}

	if ackErr != nil {
		response["status"] = "error"
		response["error"] = ackErr.Error()
	}

	if messageID := extractMessageID(original); messageID != "" {
		response["messageId"] = messageID
	}

	return response
}

func extractMessageID(original any) string {
	value, ok := original.(map[string]any)
	if !ok {
		return ""
	}

	if id, exists := value["__collabMessageId"].(string); exists {
		return id
	}

	return ""
}
