package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"geminilegion/backend/internal/auth"
	"geminilegion/backend/internal/common"
	"geminilegion/backend/internal/config"
	"geminilegion/backend/internal/engine"
	"geminilegion/backend/internal/events"
	"geminilegion/backend/internal/observability"
	"geminilegion/backend/internal/store"
	"geminilegion/backend/internal/ws"
)

// ModelOption is one selectable model for minion configuration.
type ModelOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var modelOptions = []ModelOption{
	{ID: "gemini-2.5-flash-preview-04-17", Name: "Gemini 2.5 Flash Preview"},
	{ID: "gemini-2.5-pro-preview-05-06", Name: "Gemini 2.5 Pro Preview"},
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash"},
	{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro"},
}

type Server struct {
	cfg     config.Config
	store   store.Store
	engine  *engine.Engine
	bus     *events.Bus
	hub     *ws.Hub
	logger  *observability.Logger
	metrics *observability.Metrics
}

func New(cfg config.Config, st store.Store, eng *engine.Engine, bus *events.Bus, hub *ws.Hub, logger *observability.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		engine:  eng,
		bus:     bus,
		hub:     hub,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ws_clients": s.hub.ClientCount()})
	})
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(s.metrics.Render()))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.cfg.JWTSecret))
		r.Use(s.bodyLimitMiddleware)

		r.Get("/minions", s.handleListMinions)
		r.Post("/minions", s.handleSpawnMinion)
		r.Get("/minions/models", s.handleListModels)
		r.Get("/minions/{id}", s.handleGetMinion)
		r.Put("/minions/{id}", s.handleUpdateMinion)
		r.Delete("/minions/{id}", s.handleDecommissionMinion)

		r.Get("/channels", s.handleListChannels)
		r.Post("/channels", s.handleCreateChannel)
		r.Get("/channels/{id}", s.handleGetChannel)
		r.Post("/channels/{id}/members", s.handleAddChannelMember)

		r.Get("/channels/{id}/messages", s.handleListMessages)
		r.Post("/channels/{id}/messages", s.handlePostMessage)
		r.Put("/channels/{id}/messages/{messageID}", s.handleEditMessage)
		r.Delete("/channels/{id}/messages/{messageID}", s.handleDeleteMessage)

		r.Get("/ws", s.hub.ServeHTTP)
	})

	return r
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil && routeCtx.RoutePattern() != "" {
			route = routeCtx.RoutePattern()
		}
		s.metrics.ObserveHTTPRequest(route, r.Method, wrapped.Status(), time.Since(started))
	})
}

func (s *Server) bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.RequestBodyMaxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if !strings.Contains(req.Email, "@") || len(req.Password) < 8 {
		writeBadRequest(w, "invalid email or password")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeInternalError(w, "could not hash password")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Email, hash)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeConflict(w, "email already registered")
			return
		}
		writeInternalError(w, "could not create commander")
		return
	}

	token, err := auth.CreateToken(s.cfg.JWTSecret, user.ID)
	if err != nil {
		writeInternalError(w, "could not create token")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "commander_id": user.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeInternalError(w, "could not query commander")
		return
	}
	if !auth.VerifyPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.CreateToken(s.cfg.JWTSecret, user.ID)
	if err != nil {
		writeInternalError(w, "could not create token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"token": token, "commander_id": user.ID})
}

func (s *Server) handleListMinions(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	minions, err := s.store.ListMinions(r.Context())
	if err != nil {
		writeInternalError(w, "could not list minions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"minions": minions})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": modelOptions, "default": s.cfg.DefaultModel})
}

func (s *Server) handleSpawnMinion(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	var req struct {
		Name        string  `json:"name"`
		ModelID     string  `json:"model_id"`
		Persona     string  `json:"persona"`
		Temperature float64 `json:"temperature"`
		Status      string  `json:"status"`
		CurrentTask string  `json:"current_task"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeBadRequest(w, "minion name is required")
		return
	}
	if strings.EqualFold(req.Name, s.cfg.CommanderName) {
		writeBadRequest(w, "minion name collides with the commander")
		return
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		writeBadRequest(w, "temperature must be between 0 and 2")
		return
	}

	minion, err := s.engine.SpawnMinion(r.Context(), store.Minion{
		Name:        req.Name,
		ModelID:     strings.TrimSpace(req.ModelID),
		Persona:     strings.TrimSpace(req.Persona),
		Temperature: req.Temperature,
		Status:      strings.TrimSpace(req.Status),
		CurrentTask: strings.TrimSpace(req.CurrentTask),
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeConflict(w, "minion name already in use")
			return
		}
		writeInternalError(w, "could not spawn minion")
		return
	}
	writeJSON(w, http.StatusCreated, minion)
}

func (s *Server) handleGetMinion(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	minion, err := s.store.GetMinion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "minion not found")
			return
		}
		writeInternalError(w, "could not load minion")
		return
	}
	writeJSON(w, http.StatusOK, minion)
}

func (s *Server) handleUpdateMinion(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	current, err := s.store.GetMinion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "minion not found")
			return
		}
		writeInternalError(w, "could not load minion")
		return
	}

	var req struct {
		ModelID     *string  `json:"model_id"`
		Persona     *string  `json:"persona"`
		Temperature *float64 `json:"temperature"`
		Status      *string  `json:"status"`
		CurrentTask *string  `json:"current_task"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if req.ModelID != nil {
		current.ModelID = strings.TrimSpace(*req.ModelID)
	}
	if req.Persona != nil {
		current.Persona = strings.TrimSpace(*req.Persona)
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 2 {
			writeBadRequest(w, "temperature must be between 0 and 2")
			return
		}
		current.Temperature = *req.Temperature
	}
	if req.Status != nil {
		current.Status = strings.TrimSpace(*req.Status)
	}
	if req.CurrentTask != nil {
		current.CurrentTask = strings.TrimSpace(*req.CurrentTask)
	}

	updated, err := s.store.UpdateMinion(r.Context(), current)
	if err != nil {
		writeInternalError(w, "could not update minion")
		return
	}
	s.bus.Publish(events.MinionUpdated{Minion: updated})
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDecommissionMinion(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteMinion(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "minion not found")
			return
		}
		writeInternalError(w, "could not decommission minion")
		return
	}
	s.bus.Publish(events.MinionDecommissioned{MinionID: id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	channels, err := s.store.ListChannels(r.Context())
	if err != nil {
		writeInternalError(w, "could not list channels")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Kind        string   `json:"kind"`
		Members     []string `json:"members"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeBadRequest(w, "channel name is required")
		return
	}
	kind := store.ChannelKind(strings.TrimSpace(req.Kind))
	if kind == "" {
		kind = store.ChannelGroup
	}
	switch kind {
	case store.ChannelGroup, store.ChannelDM, store.ChannelSystemLog:
	default:
		writeBadRequest(w, "unknown channel kind")
		return
	}

	// The commander is a member of every channel. Group channels also pull
	// in every active minion.
	members := append([]string{s.cfg.CommanderName}, req.Members...)
	if kind == store.ChannelGroup {
		minions, err := s.store.ListMinions(r.Context())
		if err != nil {
			writeInternalError(w, "could not list minions")
			return
		}
		for _, m := range minions {
			members = append(members, m.Name)
		}
	}

	channel, err := s.store.CreateChannel(r.Context(), store.Channel{
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Kind:        kind,
		Members:     members,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeConflict(w, "channel already exists")
			return
		}
		writeInternalError(w, "could not create channel")
		return
	}
	s.bus.Publish(events.ChannelCreated{Channel: channel})
	writeJSON(w, http.StatusCreated, channel)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	channel, err := s.store.GetChannel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "channel not found")
			return
		}
		writeInternalError(w, "could not load channel")
		return
	}
	writeJSON(w, http.StatusOK, channel)
}

func (s *Server) handleAddChannelMember(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	var req struct {
		Member string `json:"member"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	req.Member = strings.TrimSpace(req.Member)
	if req.Member == "" {
		writeBadRequest(w, "member is required")
		return
	}

	channelID := chi.URLParam(r, "id")
	channel, err := s.store.AddChannelMember(r.Context(), channelID, req.Member)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "channel not found")
			return
		}
		writeInternalError(w, "could not add member")
		return
	}
	s.bus.Publish(events.ChannelMemberAdded{ChannelID: channelID, Member: req.Member})
	writeJSON(w, http.StatusOK, channel)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	messages, err := s.store.ListMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "channel not found")
			return
		}
		writeInternalError(w, "could not list messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handlePostMessage accepts the commander's message and returns 202
// immediately; minion turns run in the background and surface over the
// websocket gateway.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	content := common.TruncateRunes(req.Content, s.cfg.MessageMaxLen)
	if content == "" {
		writeBadRequest(w, "message content is required")
		return
	}

	channelID := chi.URLParam(r, "id")
	msg, err := s.engine.PostUserMessage(r.Context(), channelID, content)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "channel not found")
			return
		}
		writeInternalError(w, "could not post message")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProviderTimeout+30*time.Second)
		defer cancel()
		s.engine.RunTurns(ctx, channelID)
	}()

	writeJSON(w, http.StatusAccepted, msg)
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	content := common.TruncateRunes(req.Content, s.cfg.MessageMaxLen)
	if content == "" {
		writeBadRequest(w, "message content is required")
		return
	}

	msg, err := s.store.EditMessageContent(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "messageID"), content)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "message not found")
			return
		}
		writeInternalError(w, "could not edit message")
		return
	}
	s.bus.Publish(events.MessageEdited{Message: msg})
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCommanderID(w, r); !ok {
		return
	}
	channelID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")
	if err := s.store.DeleteMessage(r.Context(), channelID, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "message not found")
			return
		}
		writeInternalError(w, "could not delete message")
		return
	}
	s.bus.Publish(events.MessageDeleted{ChannelID: channelID, MessageID: messageID})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
