package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"image-recompressor/internal/config"
	"image-recompressor/internal/metadata"
	"image-recompressor/internal/reencoder"
	"image-recompressor/internal/statistics"
	"image-recompressor/internal/sweep"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

//go:embed static
var staticFiles embed.FS

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex
	inspector  *metadata.Inspector
	console    sweep.Observer

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	currentRunID   string
	currentStats   *statistics.Statistics
	lastError      string
	cancel         context.CancelFunc
	runs           sync.WaitGroup
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SweepRequest starts a sweep. Unset fields fall back to the server configuration.
type SweepRequest struct {
	Root              string `json:"root"`
	Quality           *int   `json:"quality,omitempty"`
	PNGCompressLevel  *int   `json:"png_compress_level,omitempty"`
	Mode              string `json:"mode,omitempty"`
	OnError           string `json:"on_error,omitempty"`
	DryRun            bool   `json:"dry_run"`
	ReportUnsupported *bool  `json:"report_unsupported,omitempty"`
}

type DirectoryInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	IsDirectory  bool   `json:"is_directory"`
	IsCandidate  bool   `json:"is_candidate"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
}

// FileResult is the WebSocket payload for one processed file.
type FileResult struct {
	RunID        string `json:"run_id"`
	Path         string `json:"path"`
	Format       string `json:"format"`
	Status       string `json:"status"`
	Line         string `json:"line,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	OriginalSize int64  `json:"original_size"`
	EncodedSize  int64  `json:"encoded_size"`
	DurationMS   int64  `json:"duration_ms"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		inspector: metadata.NewInspector(log, false),
	}

	s.setupRoutes()
	return s
}

// SetConsole mirrors per-file results of web-started sweeps to o.
func (s *Server) SetConsole(o sweep.Observer) {
	s.console = o
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/sweep", s.handleSweep).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/directories", s.handleListDirectories).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/inspect", s.handleInspect).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.FS(s.assets()))),
	)

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels a running sweep, waits for its current file to finish and shuts the
// HTTP server down. ctx bounds the whole shutdown.
func (s *Server) Stop(ctx context.Context) error {
	s.cancelRun()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for sweep to stop: %w", ctx.Err())
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// assets returns the configured static directory, or the embedded assets.
func (s *Server) assets() fs.FS {
	if s.cfg.Server.StaticDir != "" {
		return os.DirFS(s.cfg.Server.StaticDir)
	}
	sub, _ := fs.Sub(staticFiles, "static")
	return sub
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(s.assets(), "index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	runID := s.currentRunID
	stats := s.currentStats
	lastError := s.lastError
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = map[string]interface{}{
			"result": stats.GetResultLine(),
			"files":  stats.Snapshot(),
		}
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"run_id":     runID,
			"last_error": lastError,
			"statistics": statsData,
		},
	})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Root == "" {
		s.writeError(w, "Root directory is required", http.StatusBadRequest)
		return
	}

	cfg, err := s.sweepConfig(req)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if info, err := os.Stat(cfg.Root); err != nil || !info.IsDir() {
		s.writeError(w, "Root directory does not exist", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	runID := uuid.NewString()

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		cancel()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.currentRunID = runID
	s.currentStats = statistics.NewStatistics()
	s.lastError = ""
	s.cancel = cancel
	stats := s.currentStats
	s.runs.Add(1)
	s.operationMutex.Unlock()

	go s.runSweepAsync(ctx, runID, cfg, stats)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Sweep started",
		Data:    map[string]interface{}{"run_id": runID},
	})
}

// sweepConfig overlays the request on a copy of the server configuration.
func (s *Server) sweepConfig(req SweepRequest) (*config.Config, error) {
	cfg := *s.cfg
	cfg.Extensions = append([]string(nil), s.cfg.Extensions...)
	cfg.Root = req.Root
	cfg.DryRun = req.DryRun
	if req.Quality != nil {
		cfg.Quality = *req.Quality
	}
	if req.PNGCompressLevel != nil {
		cfg.PNGCompressLevel = *req.PNGCompressLevel
	}
	if req.Mode != "" {
		cfg.Mode = req.Mode
	}
	if req.OnError != "" {
		cfg.OnError = req.OnError
	}
	if req.ReportUnsupported != nil {
		cfg.ReportUnsupported = *req.ReportUnsupported
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.cancelRun() {
		s.writeError(w, "No operation in progress", http.StatusConflict)
		return
	}

	s.broadcastWSMessage("sweep_stopped", map[string]interface{}{
		"message": "Sweep stopped by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Sweep stopping after the current file",
	})
}

// cancelRun cancels the running sweep, if any, and reports whether one was running.
func (s *Server) cancelRun() bool {
	s.operationMutex.RLock()
	defer s.operationMutex.RUnlock()
	if !s.isRunning || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Server) handleListDirectories(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	// Security check - prevent directory traversal
	path = filepath.Clean(path)
	if strings.Contains(path, "..") {
		s.writeError(w, "Invalid path", http.StatusBadRequest)
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read directory: %v", err), http.StatusInternalServerError)
		return
	}

	directories := make([]DirectoryInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		directories = append(directories, DirectoryInfo{
			Path:         filepath.Join(path, entry.Name()),
			Name:         entry.Name(),
			IsDirectory:  entry.IsDir(),
			IsCandidate:  !entry.IsDir() && s.cfg.IsImageExtension(filepath.Ext(entry.Name())),
			Size:         info.Size(),
			ModifiedTime: info.ModTime().Format(time.RFC3339),
		})
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    directories,
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary": stats.GetSummary(),
			"errors":  stats.GetErrors(),
			"files":   stats.Snapshot(),
		},
	})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "Path is required", http.StatusBadRequest)
		return
	}

	info, err := s.inspector.Inspect(filepath.Clean(path))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := map[string]interface{}{
		"path":   info.Path,
		"size":   info.Size,
		"mime":   info.MIME,
		"format": info.Format.String(),
		"codec":  info.Codec,
		"width":  info.Width,
		"height": info.Height,
		"exif":   info.HasEXIF,
	}
	if info.Software != "" {
		data["software"] = info.Software
	}
	if info.DateTime != nil {
		data["date_time"] = info.DateTime.Format(time.RFC3339)
	}
	if info.DecodeErr != nil {
		data["decode_error"] = info.DecodeErr.Error()
	}

	s.writeJSON(w, APIResponse{Success: true, Data: data})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) runSweepAsync(ctx context.Context, runID string, cfg *config.Config, stats *statistics.Statistics) {
	defer s.runs.Done()

	re, err := sweep.NewReencoder(cfg)
	if err == nil {
		opts := re.Options()
		s.broadcastWSMessage("sweep_started", map[string]interface{}{
			"run_id":   runID,
			"root":     cfg.Root,
			"mode":     opts.Mode.String(),
			"on_error": cfg.OnError,
			"quality":  opts.Quality,
			"dry_run":  opts.DryRun,
		})

		observers := sweep.Observers{sweep.ObserverFuncs{
			Result: func(res reencoder.Result) {
				s.broadcastWSMessage("file_result", newFileResult(runID, res))
			},
			WalkError: func(path string, err error) {
				s.broadcastWSMessage("walk_error", map[string]interface{}{
					"run_id": runID,
					"path":   path,
					"line":   sweep.FormatWalkError(path, err),
				})
			},
		}}
		if s.console != nil {
			observers = append(observers, s.console)
		}

		err = sweep.NewSweeper(cfg, s.log, stats, re, observers).Run(ctx)
	}

	s.operationMutex.Lock()
	s.isRunning = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if err != nil {
		s.lastError = err.Error()
	}
	s.operationMutex.Unlock()

	switch {
	case err == nil:
		s.broadcastWSMessage("sweep_completed", map[string]interface{}{
			"run_id":     runID,
			"result":     stats.GetResultLine(),
			"statistics": stats.GetSummary(),
		})
	case errors.Is(err, context.Canceled):
		s.broadcastWSMessage("sweep_cancelled", map[string]interface{}{
			"run_id": runID,
			"result": stats.GetResultLine(),
		})
	default:
		s.broadcastWSMessage("sweep_error", map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		})
	}
}

func newFileResult(runID string, res reencoder.Result) FileResult {
	line, _ := sweep.FormatResult(res)
	fr := FileResult{
		RunID:        runID,
		Path:         res.Path,
		Format:       res.Format.String(),
		Status:       res.Status.String(),
		Line:         line,
		OriginalSize: res.OriginalSize,
		EncodedSize:  res.EncodedSize,
		DurationMS:   res.Duration().Milliseconds(),
	}
	if res.Err != nil {
		fr.Error = res.Err.Error()
		fr.ErrorKind = reencoder.KindOf(res.Err).String()
	}
	return fr
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// Writes are serialised by holding the write lock; gorilla connections allow
	// only one concurrent writer.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
