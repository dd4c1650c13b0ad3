package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanapbuhay/chat-service/internal/domain"
	"github.com/hanapbuhay/chat-service/internal/service"
	"github.com/hanapbuhay/chat-service/internal/ws"
)

// handleListMessages returns a history page in chronological order. Pagination
// uses an exclusive cursor: before_id plus before_ts (RFC3339) address the
// oldest message already loaded, and the page ends strictly before it.
func handleListMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room id"})
			return
		}

		limit := queryInt(r, "limit", 0)

		var before *domain.MessageCursor
		if beforeID := r.URL.Query().Get("before_id"); beforeID != "" {
			id, err := strconv.ParseInt(beforeID, 10, 64)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid before_id"})
				return
			}
			ts, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("before_ts"))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "before_ts must be RFC3339"})
				return
			}
			before = &domain.MessageCursor{CreatedAt: ts, ID: id}
		}

		msgs, err := msgSvc.History(r.Context(), roomID, user.ID, limit, before)
		if err != nil {
			writeError(w, err)
			return
		}
		resps, err := msgSvc.ToResponses(r.Context(), msgs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resps)
	}
}

type sendMessageRequest struct {
	Content     string `json:"content"`
	ClientToken string `json:"client_token"`
}

// handleSendMessage persists a message and pushes it to the room's live
// subscribers, so HTTP and WebSocket senders look the same to receivers.
func handleSendMessage(msgSvc *service.MessageService, broadcast ws.Broadcaster, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room id"})
			return
		}

		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		msg, err := msgSvc.Send(r.Context(), service.SendInput{
			RoomID:      roomID,
			Content:     req.Content,
			ClientToken: req.ClientToken,
		}, user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		resp, err := msgSvc.ToResponse(r.Context(), msg)
		if err != nil {
			writeError(w, err)
			return
		}
		ws.Deliver(r.Context(), broadcast, msgSvc, msg.RoomID, ws.MessageEvent(resp), logger)
		writeJSON(w, http.StatusCreated, resp)
	}
}

type markReadRequest struct {
	MessageIDs []int64 `json:"message_ids"`
}

func handleMarkRead(msgSvc *service.MessageService, broadcast ws.Broadcaster, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room id"})
			return
		}

		var req markReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		if err := msgSvc.MarkRead(r.Context(), roomID, user.ID, req.MessageIDs); err != nil {
			writeError(w, err)
			return
		}
		if len(req.MessageIDs) > 0 {
			ws.Deliver(r.Context(), broadcast, msgSvc, roomID, &ws.Event{
				Type:       ws.EventMessagesRead,
				RoomID:     roomID,
				UserID:     user.ID,
				MessageIDs: req.MessageIDs,
			}, logger)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleUnreadCount(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room id"})
			return
		}

		count, err := msgSvc.UnreadCount(r.Context(), roomID, user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
	}
}
