package httpserver

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hanapbuhay/chat-service/internal/config"
	"github.com/hanapbuhay/chat-service/internal/domain"
	"github.com/hanapbuhay/chat-service/internal/security"
	"github.com/hanapbuhay/chat-service/internal/service"
	"github.com/hanapbuhay/chat-service/internal/ws"
)

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(
	cfg *config.Config,
	db *sql.DB,
	repos domain.Repositories,
	hub *ws.Hub,
	broadcast ws.Broadcaster,
	tokenSvc *security.TokenService,
	passwordHasher *security.PasswordHasher,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Services
	accessTTL := time.Duration(cfg.AccessTokenMinutes) * time.Minute
	rememberTTL := time.Duration(cfg.RememberMeDays) * 24 * time.Hour
	authSvc := service.NewAuthService(repos.Users, tokenSvc, passwordHasher, accessTTL, rememberTTL)
	userSvc := service.NewUserService(repos.Users)
	roomSvc := service.NewRoomService(repos.Rooms, repos.Participants, repos.Users)
	msgSvc := service.NewMessageService(repos.Rooms, repos.Participants, repos.Messages, repos.Users)
	contactSvc := service.NewContactService(repos.Contacts)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("%s API", cfg.AppName),
			"version": "1.0.0",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			writeError(w, fmt.Errorf("%w: database unreachable", domain.ErrUnavailable))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(authSvc))
			r.Post("/login", handleLogin(authSvc))
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokenSvc, repos.Users, logger))

			r.Post("/auth/logout", handleLogout(authSvc))
			r.Get("/auth/me", handleMe())

			// Users
			r.Route("/users", func(r chi.Router) {
				r.Get("/", handleListUsers(userSvc))
				r.Get("/{userID}", handleGetUser(userSvc))
				r.Patch("/me", handleUpdateProfile(userSvc))
			})

			// Contacts
			r.Get("/contacts", handleListContacts(contactSvc))

			// Rooms and messages
			r.Route("/rooms", func(r chi.Router) {
				r.Post("/open", handleOpenRoom(roomSvc))
				r.Get("/", handleListRooms(roomSvc))
				r.Get("/{roomID}", handleGetRoom(roomSvc))
				r.Get("/{roomID}/messages", handleListMessages(msgSvc))
				r.Post("/{roomID}/messages", handleSendMessage(msgSvc, broadcast, logger))
				r.Post("/{roomID}/read", handleMarkRead(msgSvc, broadcast, logger))
				r.Get("/{roomID}/unread", handleUnreadCount(msgSvc))
			})
		})
	})

	// WebSocket endpoint
	r.Get("/ws", ws.MakeHandler(hub, broadcast, tokenSvc, repos.Users, msgSvc, cfg.CORSOrigins, logger))

	return r
}
