// Package httpapi exposes the persistence glue over REST: server/channel/
// member management and paginated message history. The live delivery pipeline
// lives in ws; both share the chat service.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clamor-chat/clamor/auth"
	"github.com/clamor-chat/clamor/chat"
	"github.com/clamor-chat/clamor/persistence"
	"github.com/clamor-chat/clamor/types"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"gorm.io/datatypes"
)

type ctxKey int

const userIdKey ctxKey = 0

type Handler struct {
	svc      *chat.Service
	store    persistence.Store
	asserter auth.Asserter
	log      hclog.Logger
}

func NewHandler(svc *chat.Service, store persistence.Store, asserter auth.Asserter, log hclog.Logger) *Handler {
	return &Handler{svc: svc, store: store, asserter: asserter, log: log}
}

func (h *Handler) Routes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.withUser)
	api.HandleFunc("/me", h.me).Methods(http.MethodGet)
	api.HandleFunc("/servers", h.createServer).Methods(http.MethodPost)
	api.HandleFunc("/servers", h.listServers).Methods(http.MethodGet)
	api.HandleFunc("/servers/{serverId}", h.getServer).Methods(http.MethodGet)
	api.HandleFunc("/servers/{serverId}/channels", h.createChannel).Methods(http.MethodPost)
	api.HandleFunc("/servers/{serverId}/channels", h.listChannels).Methods(http.MethodGet)
	api.HandleFunc("/servers/{serverId}/members", h.addMember).Methods(http.MethodPost)
	api.HandleFunc("/channels/{channelId}/messages", h.listMessages).Methods(http.MethodGet)
	api.HandleFunc("/channels/{channelId}/messages", h.createMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}", h.editMessage).Methods(http.MethodPatch)
	api.HandleFunc("/messages/{id}", h.deleteMessage).Methods(http.MethodDelete)
}

func statusFor(code string) int {
	switch code {
	case chat.CodeInvalidInput, chat.CodeAlreadyMember:
		return http.StatusBadRequest
	case chat.CodeUnauthenticated:
		return http.StatusUnauthorized
	case chat.CodeForbidden:
		return http.StatusForbidden
	case chat.CodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.Envelope{Ok: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	code := chat.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(code))
	_ = json.NewEncoder(w).Encode(types.Envelope{
		Ok:    false,
		Error: &types.WireError{Code: code, Message: chat.WireMessageOf(err)},
	})
}

// withUser resolves the Authorization bearer credential to a user id via the
// asserter. The optional X-Auth-Provider header names the OIDC provider.
func (h *Handler) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, chat.ErrUnauthenticated("missing token"))
			return
		}
		credential := authHeader
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			credential = strings.TrimSpace(authHeader[len("bearer "):])
		}
		userId, err := h.asserter.Assert(r.Context(), credential, r.Header.Get("X-Auth-Provider"))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIdKey, userId)))
	})
}

func requestUser(r *http.Request) string {
	userId, _ := r.Context().Value(userIdKey).(string)
	return userId
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user := &types.User{Id: requestUser(r)}
	if err := h.store.GetUser(r.Context(), user); err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, chat.ErrNotFound("user not found"))
			return
		}
		h.log.Error("could not load user", "error", err)
		writeError(w, chat.ErrServer("could not load user"))
		return
	}
	writeData(w, http.StatusOK, user)
}

func (h *Handler) createServer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Visibility  string `json:"visibility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, chat.ErrInvalidInput("server name required"))
		return
	}
	if body.Visibility == "" {
		body.Visibility = types.VisibilityPrivate
	}
	server := &types.Server{
		Name:        body.Name,
		Description: body.Description,
		Visibility:  body.Visibility,
		OwnerId:     requestUser(r),
	}
	if err := h.store.CreateServer(r.Context(), server); err != nil {
		h.log.Error("could not create server", "error", err)
		writeError(w, chat.ErrServer("could not create server"))
		return
	}
	writeData(w, http.StatusCreated, server)
}

func (h *Handler) listServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.ServersForUser(r.Context(), requestUser(r))
	if err != nil {
		h.log.Error("could not list servers", "error", err)
		writeError(w, chat.ErrServer("could not list servers"))
		return
	}
	writeData(w, http.StatusOK, servers)
}

func (h *Handler) getServer(w http.ResponseWriter, r *http.Request) {
	server := &types.Server{Id: mux.Vars(r)["serverId"]}
	if err := h.store.GetServer(r.Context(), server); err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, chat.ErrNotFound("server not found"))
			return
		}
		h.log.Error("could not load server", "error", err)
		writeError(w, chat.ErrServer("could not load server"))
		return
	}
	writeData(w, http.StatusOK, server)
}

// loadServerForOwner fetches the server and checks that the requester owns
// it. Used by the owner-only mutations.
func (h *Handler) loadServerForOwner(r *http.Request, serverId string) (*types.Server, error) {
	server := &types.Server{Id: serverId}
	if err := h.store.GetServer(r.Context(), server); err != nil {
		if err == persistence.ErrNotFound {
			return nil, chat.ErrNotFound("server not found")
		}
		h.log.Error("could not load server", "error", err)
		return nil, chat.ErrServer("could not load server")
	}
	if server.OwnerId != requestUser(r) {
		return nil, chat.ErrForbidden("only server owner may do this")
	}
	return server, nil
}

func (h *Handler) createChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, chat.ErrInvalidInput("channel name required"))
		return
	}
	server, err := h.loadServerForOwner(r, mux.Vars(r)["serverId"])
	if err != nil {
		writeError(w, err)
		return
	}
	channel := &types.Channel{ServerId: server.Id, Name: body.Name, Kind: body.Kind}
	if err := h.store.CreateChannel(r.Context(), channel); err != nil {
		h.log.Error("could not create channel", "error", err)
		writeError(w, chat.ErrServer("could not create channel"))
		return
	}
	writeData(w, http.StatusCreated, channel)
}

func (h *Handler) listChannels(w http.ResponseWriter, r *http.Request) {
	serverId := mux.Vars(r)["serverId"]
	server := &types.Server{Id: serverId}
	if err := h.store.GetServer(r.Context(), server); err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, chat.ErrNotFound("server not found"))
			return
		}
		h.log.Error("could not load server", "error", err)
		writeError(w, chat.ErrServer("could not load server"))
		return
	}
	userId := requestUser(r)
	if server.OwnerId != userId {
		isMember, err := h.store.HasMember(r.Context(), serverId, userId)
		if err != nil {
			h.log.Error("could not check membership", "error", err)
			writeError(w, chat.ErrServer("could not check membership"))
			return
		}
		if !isMember {
			writeError(w, chat.ErrForbidden("not a member of server"))
			return
		}
	}
	channels, err := h.store.ChannelsByServer(r.Context(), serverId)
	if err != nil {
		h.log.Error("could not list channels", "error", err)
		writeError(w, chat.ErrServer("could not list channels"))
		return
	}
	writeData(w, http.StatusOK, channels)
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserId string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserId == "" {
		writeError(w, chat.ErrInvalidInput("user_id required"))
		return
	}
	server, err := h.loadServerForOwner(r, mux.Vars(r)["serverId"])
	if err != nil {
		writeError(w, err)
		return
	}
	user := &types.User{Id: body.UserId}
	if err := h.store.GetUser(r.Context(), user); err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, chat.ErrNotFound("user not found"))
			return
		}
		h.log.Error("could not load user", "error", err)
		writeError(w, chat.ErrServer("could not load user"))
		return
	}
	membership := types.Membership{ServerId: server.Id, UserId: body.UserId, CreatedAt: time.Now()}
	if err := h.store.AddMember(r.Context(), membership); err != nil {
		if err == persistence.ErrDuplicate {
			writeError(w, chat.ErrAlreadyMember("user already member"))
			return
		}
		h.log.Error("could not add member", "error", err)
		writeError(w, chat.ErrServer("could not add member"))
		return
	}
	writeData(w, http.StatusCreated, membership)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := h.svc.ListMessages(r.Context(), requestUser(r), mux.Vars(r)["channelId"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	nextCursor := ""
	if len(messages) > 0 {
		nextCursor = messages[len(messages)-1].Id
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"messages":    messages,
		"next_cursor": nextCursor,
	})
}

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content     string          `json:"content"`
		Attachments json.RawMessage `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, chat.ErrInvalidInput("malformed body"))
		return
	}
	// REST creates are not tied to any live connection, nobody is excluded
	// from the fan-out; clients dedupe by authoritative id.
	message, err := h.svc.CreateMessage(r.Context(), requestUser(r), mux.Vars(r)["channelId"], body.Content, datatypes.JSON(body.Attachments), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, message)
}

func (h *Handler) editMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content *string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, chat.ErrInvalidInput("malformed body"))
		return
	}
	message, err := h.svc.EditMessage(r.Context(), requestUser(r), mux.Vars(r)["id"], body.Content, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, message)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteMessage(r.Context(), requestUser(r), mux.Vars(r)["id"], "")
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
