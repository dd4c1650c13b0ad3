package httpserver

import (
	"net/http"

	"github.com/hanapbuhay/chat-service/internal/service"
)

// handleListContacts returns one entry per counterpart the caller shares a
// private room with: the counterpart's profile, the room id, the latest
// message and the caller's unread count. Sorted by most recent activity.
func handleListContacts(contactSvc *service.ContactService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		contacts, err := contactSvc.ListWithActivity(r.Context(), user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, contacts)
	}
}
