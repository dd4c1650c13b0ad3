package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hanapbuhay/chat-service/internal/domain"
	"github.com/hanapbuhay/chat-service/internal/security"
	"github.com/hanapbuhay/chat-service/internal/service"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin admits browser requests from the configured origins.
// Requests without an Origin header come from non-browser clients and are
// allowed; their bearer token is the whole story.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or
// Sec-WebSocket-Protocol), then dispatches inbound frames:
//   - message   -> validate & persist, broadcast to the room's audience
//   - mark_read -> grow read sets, broadcast messages_read
//   - typing    -> forward the indicator to the other participants
func MakeHandler(
	hub *Hub,
	broadcast Broadcaster,
	tokens *security.TokenService,
	users domain.UserRepository,
	msgSvc *service.MessageService,
	allowedOrigins []string,
	logger *zap.Logger,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := users.GetByUsername(ctx, claims.Username)
		if err != nil || user == nil || !user.IsActive {
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := users.SetOnlineStatus(ctx, user.ID, true); err != nil {
			logger.Warn("ws: set online", zap.Int64("user_id", user.ID), zap.Error(err))
		}
		wsc := hub.Register(user.ID, conn)
		defer func() {
			hub.Unregister(user.ID, wsc)
			if err := users.SetOnlineStatus(context.Background(), user.ID, false); err != nil {
				logger.Warn("ws: set offline", zap.Int64("user_id", user.ID), zap.Error(err))
			}
			broadcast.BroadcastAll(&Event{
				Type:     EventUserOffline,
				UserID:   user.ID,
				Username: user.Username,
			})
		}()
		broadcast.BroadcastAll(&Event{
			Type:     EventUserOnline,
			UserID:   user.ID,
			Username: user.Username,
		})

		for {
			var frame Event
			if err := conn.ReadJSON(&frame); err != nil {
				break
			}
			switch frame.Type {

			case EventMessage:
				if frame.RoomID == 0 || strings.TrimSpace(frame.Content) == "" {
					sendError(wsc, "message requires room_id and non-empty content")
					continue
				}
				msg, err := msgSvc.Send(ctx, service.SendInput{
					RoomID:      frame.RoomID,
					Content:     frame.Content,
					ClientToken: frame.ClientToken,
				}, user.ID)
				if err != nil {
					logger.Warn("ws: send message", zap.Int64("user_id", user.ID), zap.Error(err))
					sendError(wsc, userFacing(err, "failed to send message"))
					continue
				}
				resp, err := msgSvc.ToResponse(ctx, msg)
				if err != nil {
					logger.Error("ws: message response", zap.Error(err))
					continue
				}
				Deliver(ctx, broadcast, msgSvc, msg.RoomID, MessageEvent(resp), logger)

			case "mark_read", EventMessagesRead:
				if frame.RoomID == 0 || len(frame.MessageIDs) == 0 {
					continue
				}
				err := msgSvc.MarkRead(ctx, frame.RoomID, user.ID, frame.MessageIDs)
				if errors.Is(err, domain.ErrNotFound) {
					// The message may have raced with a reload; not an error.
					logger.Info("ws: mark_read on unknown message",
						zap.Int64("room_id", frame.RoomID), zap.Int64("user_id", user.ID))
					continue
				}
				if err != nil {
					logger.Warn("ws: mark_read", zap.Error(err))
					sendError(wsc, "failed to mark messages as read")
					continue
				}
				Deliver(ctx, broadcast, msgSvc, frame.RoomID, &Event{
					Type:       EventMessagesRead,
					RoomID:     frame.RoomID,
					UserID:     user.ID,
					MessageIDs: frame.MessageIDs,
				}, logger)

			case EventTyping:
				if frame.RoomID == 0 {
					continue
				}
				ids, global, err := msgSvc.Audience(ctx, frame.RoomID)
				if err != nil {
					continue
				}
				ev := &Event{
					Type:     EventTyping,
					RoomID:   frame.RoomID,
					UserID:   user.ID,
					Username: user.Username,
				}
				if global {
					broadcast.BroadcastAll(ev)
					continue
				}
				if !contains(ids, user.ID) {
					sendError(wsc, "not allowed for this room")
					continue
				}
				var others []int64
				for _, id := range ids {
					if id != user.ID {
						others = append(others, id)
					}
				}
				broadcast.BroadcastToUsers(others, ev)

			default:
				logger.Debug("ws: unknown event type",
					zap.String("type", frame.Type), zap.Int64("user_id", user.ID))
			}
		}
	}
}

// MessageEvent builds the wire frame announcing a persisted message.
func MessageEvent(resp *service.MessageResponse) *Event {
	ev := &Event{
		Type:                EventMessage,
		RoomID:              resp.RoomID,
		MessageID:           resp.ID,
		SenderID:            resp.SenderID,
		SenderName:          resp.SenderName,
		SenderProfilePicURL: resp.SenderProfilePicURL,
		Content:             resp.Content,
		CreatedAt:           resp.CreatedAt,
	}
	if resp.ClientToken != nil {
		ev.ClientToken = *resp.ClientToken
	}
	return ev
}

// Deliver routes an event to the room's audience: all connected users for the
// global room, the participants otherwise.
func Deliver(ctx context.Context, broadcast Broadcaster, msgSvc *service.MessageService, roomID int64, ev *Event, logger *zap.Logger) {
	ids, global, err := msgSvc.Audience(ctx, roomID)
	if err != nil {
		logger.Warn("ws: resolve audience", zap.Int64("room_id", roomID), zap.Error(err))
		return
	}
	if global {
		broadcast.BroadcastAll(ev)
		return
	}
	broadcast.BroadcastToUsers(ids, ev)
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func userFacing(err error, fallback string) string {
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrForbidden) {
		return err.Error()
	}
	return fallback
}

func sendError(conn *Conn, msg string) {
	_ = conn.WriteJSON(&Event{
		Type:    EventError,
		Message: msg,
	})
}
