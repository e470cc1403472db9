package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/codefionn/go-ble-central/internal/central"
	"github.com/codefionn/go-ble-central/internal/config"
	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/mdns"
	"github.com/codefionn/go-ble-central/internal/models"
	"github.com/codefionn/go-ble-central/internal/radio"
	"github.com/codefionn/go-ble-central/internal/storage"
	"github.com/codefionn/go-ble-central/internal/websocket"
)

const (
	// ServerVersion identifies this gateway build on the wire.
	ServerVersion = "go-ble-central-1.0.0"

	// SchemaVersion is the wire protocol revision.
	SchemaVersion = 1
)

// Server is the BLE central gateway: it owns the central manager, the radio
// backend, the peripheral cache and the client-facing surfaces (WebSocket,
// HTTP API, mDNS).
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	storage   storage.Storage
	wsHandler *websocket.Handler

	central *central.Manager
	backend radio.Backend

	// Event system
	eventCallbacks []eventSubscription
	eventMu        sync.RWMutex

	// HTTP server
	httpServer *http.Server

	// mDNS server
	mdnsServer *mdns.Server
	mdnsZone   *mdns.GatewayZone
}

// eventSubscription tracks a callback with an ID for safe unsubscribe
type eventSubscription struct {
	id string
	cb models.EventCallback
}

// New creates a gateway instance. The radio backend is chosen from the
// configuration; passing a non-nil backend overrides it (tests inject the
// simulated backend this way).
func New(cfg *config.Config, log *logger.Logger, backend radio.Backend) (*Server, error) {
	if backend == nil {
		switch cfg.Radio.Backend {
		case config.RadioBackendTinyGo:
			backend = radio.NewTinyGoBackend(log)
		case config.RadioBackendSim, "":
			backend = radio.NewSimBackend(log)
		default:
			return nil, fmt.Errorf("unknown radio backend: %s", cfg.Radio.Backend)
		}
	}

	manager := central.NewManager(backend)
	manager.Configure(central.Options{
		ConnectTimeout: cfg.Central.ConnectTimeout,
		Logger:         log,
	})

	s := &Server{
		config:  cfg,
		logger:  log,
		storage: storage.NewJSONStorage(cfg.Storage.Path, log),
		central: manager,
		backend: backend,
	}

	// Initialize WebSocket handler
	s.wsHandler = websocket.NewHandler(s, log)

	// Initialize mDNS if enabled
	if cfg.MDNS.Enabled {
		s.mdnsZone = mdns.NewGatewayZone(cfg.MDNS.Hostname, cfg.Server.Port, log)

		mdnsConfig := &mdns.Config{
			Logger: log,
			Zone:   s.mdnsZone,
		}

		var err error
		s.mdnsServer, err = mdns.NewServer(mdnsConfig)
		if err != nil {
			log.Warn("Failed to create mDNS server", logger.ErrorField(err))
		} else {
			log.Info("mDNS advertisement enabled",
				logger.String("hostname", s.mdnsZone.GetHostname()),
				logger.String("service", s.mdnsZone.GetInstance()),
			)
		}
	}

	return s, nil
}

// Run starts the gateway and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting BLE central gateway",
		logger.Int("port", s.config.Server.Port),
		logger.String("listen", strings.Join(s.config.Server.ListenAddresses, ", ")),
		logger.String("backend", s.backend.Name()),
	)

	// Start storage
	if err := s.storage.Start(); err != nil {
		return fmt.Errorf("failed to start storage: %w", err)
	}
	defer s.storage.Stop()

	if cached, err := s.storage.GetPeripherals(); err == nil {
		s.logger.Info("Loaded peripheral cache", logger.Int("count", len(cached)))
	}

	// Bridge manager events onto the client event fan-out and keep the
	// peripheral cache fresh.
	unsubscribe := s.central.Subscribe(s.handleCentralEvent)
	defer unsubscribe()

	// Power the radio up; its state report gates scanning and connecting.
	if err := s.backend.Start(s.central); err != nil {
		s.logger.Error("Failed to start radio backend", logger.ErrorField(err))
	}

	// Start mDNS server if enabled
	if s.mdnsServer != nil {
		if err := s.mdnsServer.Start(); err != nil {
			s.logger.Error("Failed to start mDNS server", logger.ErrorField(err))
		} else {
			s.logger.Info("mDNS server started",
				logger.String("hostname", s.mdnsZone.GetHostname()),
			)
		}
	}

	// Setup HTTP router
	router := s.setupRouter()

	// Create HTTP server
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", logger.String("addr", addr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down gateway...")
		return s.shutdown()
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
}

// handleCentralEvent translates manager events into wire events and updates
// the peripheral cache.
func (s *Server) handleCentralEvent(ev central.Event) {
	switch ev.Type {
	case models.EventTypePeripheralDiscovered, models.EventTypePeripheralConnected:
		rec := ev.Peripheral
		if err := s.storage.SavePeripheral(&rec); err != nil {
			s.logger.Warn("Failed to cache peripheral", logger.ErrorField(err))
		}
	}

	s.EmitEvent(ev.Type, eventData(ev))
}

// eventData shapes the wire payload for a manager event.
func eventData(ev central.Event) interface{} {
	switch ev.Type {
	case models.EventTypeAdapterStateChanged:
		return models.AdapterStateEventData{State: ev.State}
	default:
		data := models.PeripheralEventData{Peripheral: ev.Peripheral}
		if ev.Cause != nil {
			cause := ev.Cause.Error()
			data.Cause = &cause
		}
		return data
	}
}

// HandleCommand processes WebSocket commands
func (s *Server) HandleCommand(ctx context.Context, cmd models.CommandMessage) (interface{}, error) {
	s.logger.Debug("Handling command",
		logger.String("command", cmd.Command),
		logger.String("message_id", cmd.MessageID),
	)

	switch models.APICommand(cmd.Command) {
	case models.APICommandServerInfo:
		return s.GetServerInfo(), nil
	case models.APICommandDiagnostics:
		return s.handleDiagnostics()
	case models.APICommandStartListening:
		return s.handleStartListening()
	case models.APICommandStartScan:
		return s.handleStartScan(cmd.Args)
	case models.APICommandStopScan:
		s.central.StopScan()
		return map[string]interface{}{"scanning": false}, nil
	case models.APICommandConnect:
		return s.handleConnect(cmd.Args)
	case models.APICommandDisconnect:
		return s.handleDisconnect(cmd.Args)
	case models.APICommandGetPeripherals:
		return s.central.DiscoveredPeripherals(), nil
	case models.APICommandGetConnected:
		return s.central.ConnectedPeripherals(), nil
	case models.APICommandGetPeripheral:
		return s.handleGetPeripheral(cmd.Args)
	case models.APICommandAdapterState:
		return models.AdapterStateEventData{State: s.central.AdapterState()}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

// Subscribe adds an event callback
func (s *Server) Subscribe(callback models.EventCallback) func() {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	id := models.GenerateMessageID()
	s.eventCallbacks = append(s.eventCallbacks, eventSubscription{id: id, cb: callback})

	// Return unsubscribe function (removes by ID)
	return func() {
		s.eventMu.Lock()
		defer s.eventMu.Unlock()

		for i := range s.eventCallbacks {
			if s.eventCallbacks[i].id == id {
				s.eventCallbacks = append(s.eventCallbacks[:i], s.eventCallbacks[i+1:]...)
				break
			}
		}
	}
}

// GetServerInfo returns gateway information
func (s *Server) GetServerInfo() models.ServerInfoMessage {
	return models.ServerInfoMessage{
		ServerVersion: ServerVersion,
		SchemaVersion: SchemaVersion,
		RadioBackend:  s.backend.Name(),
		AdapterState:  s.central.AdapterState(),
		Scanning:      s.central.IsScanning(),
	}
}

// EmitEvent sends an event to all subscribers
func (s *Server) EmitEvent(eventType models.EventType, data interface{}) {
	s.eventMu.RLock()
	callbacks := make([]eventSubscription, len(s.eventCallbacks))
	copy(callbacks, s.eventCallbacks)
	s.eventMu.RUnlock()

	for _, sub := range callbacks {
		// Run callbacks asynchronously to avoid blocking
		go sub.cb(eventType, data)
	}
}

// Command handlers

func (s *Server) handleDiagnostics() (interface{}, error) {
	return models.ServerDiagnostics{
		Info:       s.GetServerInfo(),
		Discovered: s.central.DiscoveredPeripherals(),
		Connected:  s.central.ConnectedPeripherals(),
	}, nil
}

// handleStartListening returns the current registries so a new client can
// seed its state before events start flowing.
func (s *Server) handleStartListening() (interface{}, error) {
	return map[string]interface{}{
		"info":       s.GetServerInfo(),
		"discovered": s.central.DiscoveredPeripherals(),
		"connected":  s.central.ConnectedPeripherals(),
	}, nil
}

func (s *Server) handleStartScan(args map[string]interface{}) (interface{}, error) {
	filter, err := s.scanFilter(args)
	if err != nil {
		return nil, err
	}

	allowDuplicates := s.config.Central.AllowDuplicates
	if v, ok := args["allow_duplicates"].(bool); ok {
		allowDuplicates = v
	}

	if err := s.central.StartScan(filter, allowDuplicates); err != nil {
		return nil, err
	}
	return map[string]interface{}{"scanning": true}, nil
}

func (s *Server) handleConnect(args map[string]interface{}) (interface{}, error) {
	id, err := parsePeripheralID(args)
	if err != nil {
		return nil, err
	}

	rec, ok := s.central.Peripheral(id)
	if !ok {
		return nil, fmt.Errorf("peripheral %s not found, scan first", id)
	}

	if err := s.central.Connect(rec); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"connecting": true,
		"timeout":    s.central.ConnectTimeout().String(),
	}, nil
}

func (s *Server) handleDisconnect(args map[string]interface{}) (interface{}, error) {
	id, err := parsePeripheralID(args)
	if err != nil {
		return nil, err
	}

	if err := s.central.Disconnect(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"disconnecting": true}, nil
}

func (s *Server) handleGetPeripheral(args map[string]interface{}) (interface{}, error) {
	id, err := parsePeripheralID(args)
	if err != nil {
		return nil, err
	}

	if rec, ok := s.central.Peripheral(id); ok {
		return rec, nil
	}

	// Fall back to the persistent cache for peripherals seen in earlier runs
	cached, err := s.storage.GetPeripheral(id)
	if err != nil {
		return nil, fmt.Errorf("peripheral %s not found", id)
	}
	return cached, nil
}

// scanFilter resolves the service filter for a scan: an explicit argument
// wins over the configured default.
func (s *Server) scanFilter(args map[string]interface{}) ([]uuid.UUID, error) {
	raw, ok := args["service_filter"]
	if !ok {
		return s.config.Central.ServiceFilterUUIDs()
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid service_filter: expected list of UUID strings")
	}

	filter := make([]uuid.UUID, 0, len(list))
	for _, item := range list {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("invalid service_filter entry: expected string")
		}
		parsed, err := uuid.Parse(str)
		if err != nil {
			return nil, fmt.Errorf("invalid service_filter entry %q: %w", str, err)
		}
		filter = append(filter, parsed)
	}
	return filter, nil
}

// HTTP handlers

func (s *Server) setupRouter() *mux.Router {
	router := mux.NewRouter()

	// WebSocket endpoint
	router.HandleFunc("/ws", s.wsHandler.HandleWebSocket)

	// HTTP API endpoints
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/info", s.handleInfoHTTP).Methods("GET")
	api.HandleFunc("/peripherals", s.handlePeripheralsHTTP).Methods("GET")
	api.HandleFunc("/connected", s.handleConnectedHTTP).Methods("GET")
	api.HandleFunc("/adapter", s.handleAdapterHTTP).Methods("GET")
	api.HandleFunc("/diagnostics", s.handleDiagnosticsHTTP).Methods("GET")

	// Health check
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Add middleware
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	return router
}

func (s *Server) handleInfoHTTP(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.GetServerInfo())
}

func (s *Server) handlePeripheralsHTTP(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.central.DiscoveredPeripherals())
}

func (s *Server) handleConnectedHTTP(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.central.ConnectedPeripherals())
}

func (s *Server) handleAdapterHTTP(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, models.AdapterStateEventData{State: s.central.AdapterState()})
}

func (s *Server) handleDiagnosticsHTTP(w http.ResponseWriter, r *http.Request) {
	diagnostics, err := s.handleDiagnostics()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, diagnostics)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":        "ok",
		"timestamp":     time.Now().UTC(),
		"connections":   s.wsHandler.GetConnectionCount(),
		"adapter_state": s.central.AdapterState(),
		"scanning":      s.central.IsScanning(),
	}

	s.writeJSON(w, health)
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown HTTP server", logger.ErrorField(err))
	}

	// Emit shutdown event while clients are still attached
	s.EmitEvent(models.EventTypeServerShutdown, nil)

	// Shutdown WebSocket handler
	s.wsHandler.Shutdown()

	// Stop the radio and the central manager
	if err := s.backend.Stop(); err != nil {
		s.logger.Error("Failed to stop radio backend", logger.ErrorField(err))
	}
	s.central.Close()

	// Shutdown mDNS server
	if s.mdnsServer != nil {
		if err := s.mdnsServer.Shutdown(); err != nil {
			s.logger.Error("Failed to shutdown mDNS server", logger.ErrorField(err))
		}
	}

	s.logger.Info("Gateway shutdown complete")
	return nil
}

// Middleware and utilities

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)

		s.logger.Info("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Duration("duration", duration),
			logger.String("remote_addr", r.RemoteAddr),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", logger.ErrorField(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	errorResponse := map[string]interface{}{
		"error":     message,
		"code":      code,
		"timestamp": time.Now().UTC(),
	}

	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error("Failed to encode error response", logger.ErrorField(err))
	} else {
		s.logger.Warn("HTTP error response",
			logger.Int("status", code),
			logger.String("message", message),
		)
	}
}

// parsePeripheralID extracts a peripheral_id UUID from command args
func parsePeripheralID(args map[string]interface{}) (uuid.UUID, error) {
	v, ok := args["peripheral_id"]
	if !ok {
		return uuid.Nil, fmt.Errorf("missing required parameter: peripheral_id")
	}

	str, ok := v.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid peripheral_id: expected UUID string")
	}

	id, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid peripheral_id %q: %w", str, err)
	}
	return id, nil
}
