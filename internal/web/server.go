package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"photo-compressor-go/internal/config"
	"photo-compressor-go/internal/extractor"
	"photo-compressor-go/internal/logger"
	"photo-compressor-go/internal/metrics"
	"photo-compressor-go/internal/pipeline"
	"photo-compressor-go/internal/statistics"
	"photo-compressor-go/internal/store"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteTimeout = 5 * time.Second
	// maxUploadMemory caps the multipart bytes held in memory; the rest of an
	// accepted upload is buffered in temp files by ParseMultipartForm.
	maxUploadMemory = 32 << 20
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	session    *pipeline.Session
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	unsubscribe func()
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type QualityRequest struct {
	Quality *int `json:"quality"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ImageView is the client-facing form of a record: sizes and links, no payloads.
type ImageView struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Type               string             `json:"type"`
	OriginalSize       int64              `json:"original_size"`
	CompressedSize     int64              `json:"compressed_size"`
	OriginalSizeText   string             `json:"original_size_text"`
	CompressedSizeText string             `json:"compressed_size_text"`
	Savings            float64            `json:"savings"`
	Width              int                `json:"width"`
	Height             int                `json:"height"`
	Preview            string             `json:"preview"`
	Download           string             `json:"download"`
	Metadata           extractor.Metadata `json:"metadata"`
}

// StateView is the client-facing form of a store snapshot.
type StateView struct {
	Images              []ImageView `json:"images"`
	Quality             int         `json:"quality"`
	Processing          bool        `json:"processing"`
	TotalOriginalSize   string      `json:"total_original_size"`
	TotalCompressedSize string      `json:"total_compressed_size"`
	TotalSavings        float64     `json:"total_savings"`
}

// NewServer creates the HTTP server and starts broadcasting every store
// change to connected websocket clients.
func NewServer(cfg *config.Config, session *pipeline.Session, log *logrus.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		cfg:       cfg,
		log:       log,
		session:   session,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	s.unsubscribe = session.Store().Subscribe(func(state store.State) {
		s.broadcastWSMessage("state", newStateView(state))
	})
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/images", s.handleUpload).Methods("POST")
	api.HandleFunc("/images", s.handleClear).Methods("DELETE")
	api.HandleFunc("/images/{id}", s.handleRemove).Methods("DELETE")
	api.HandleFunc("/images/{id}/preview", s.handlePreview).Methods("GET")
	api.HandleFunc("/images/{id}/download", s.handleDownload).Methods("GET")
	api.HandleFunc("/quality", s.handleQuality).Methods("PUT")
	api.HandleFunc("/export", s.handleExport).Methods("POST")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// UseMetrics instruments every route with m and serves gatherer on /metrics.
func (s *Server) UseMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) {
	s.router.Use(m.Middleware)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

// Handler returns the router, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := s.cfg.Address()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.unsubscribe()

	s.wsMutex.Lock()
	for conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    newStateView(s.session.Store().Snapshot()),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.session.Store().Processing() {
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}

	limit := s.cfg.Server.MaxUploadSize
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(min(limit, maxUploadMemory)); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, fmt.Sprintf("Upload exceeds %s", statistics.FormatSize(limit)), http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.writeError(w, "No files uploaded", http.StatusBadRequest)
		return
	}

	inputs := make([]pipeline.Input, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, fmt.Sprintf("Failed to read %s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.writeError(w, fmt.Sprintf("Failed to read %s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		inputs = append(inputs, pipeline.Input{
			Name: fh.Filename,
			Type: declaredType(fh.Header.Get("Content-Type"), data),
			Data: data,
		})
	}

	records, err := s.session.Ingest(inputs)
	if err != nil {
		s.writeError(w, err.Error(), statusFor(err))
		return
	}

	views := make([]ImageView, len(records))
	for i, rec := range records {
		views[i] = newImageView(rec)
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("%d of %d file(s) added", len(records), len(inputs)),
		Data:    views,
	})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	var req QualityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quality == nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := store.ValidateQuality(*req.Quality); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.session.Requality(*req.Quality); err != nil {
		s.writeError(w, err.Error(), statusFor(err))
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    newStateView(s.session.Store().Snapshot()),
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Remove(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err.Error(), statusFor(err))
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Image removed"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Clear(); err != nil {
		s.writeError(w, err.Error(), statusFor(err))
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Collection cleared"})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.session.Store().Image(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	s.writeBytes(w, rec.DeclaredType, rec.Original)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.session.Store().Image(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	name := s.session.FileName(rec.Name)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	s.writeBytes(w, rec.Compressed.MIMEType, rec.Compressed.Data)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	summary, err := s.session.ExportAll(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Export finished with errors")
		s.writeError(w, fmt.Sprintf("%d saved, %d failed: %v", summary.Saved, summary.Failed, err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("%d file(s) exported", summary.Saved),
		Data:    summary,
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	stats := s.session.Statistics()
	data := map[string]interface{}{
		"summary": stats.GetSummary(),
		"images": map[string]interface{}{
			"batches":              atomic.LoadInt64(&stats.BatchesProcessed),
			"received":             atomic.LoadInt64(&stats.InputsReceived),
			"ingested":             atomic.LoadInt64(&stats.ImagesIngested),
			"skipped":              atomic.LoadInt64(&stats.InputsSkipped),
			"failed":               atomic.LoadInt64(&stats.ItemsFailed),
			"recompressions":       atomic.LoadInt64(&stats.RecompressionsApplied),
			"recompression_errors": atomic.LoadInt64(&stats.RecompressionsFailed),
			"exported":             atomic.LoadInt64(&stats.FilesExported),
			"export_errors":        atomic.LoadInt64(&stats.ExportErrors),
		},
		"errors":        stats.GetErrorCount(),
		"error_summary": stats.GetErrorSummary(),
	}
	if cache, ok := s.session.InspectorStats(); ok {
		data["metadata_cache"] = map[string]interface{}{
			"entries":  cache.Size,
			"hits":     cache.Hits,
			"misses":   cache.Misses,
			"hit_rate": cache.HitRate,
		}
	}
	s.writeJSON(w, APIResponse{Success: true, Data: data})
}

// statusFor maps pipeline and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidQuality):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Register and send the current state in one step so no broadcast can
	// slip in between.
	s.wsMutex.Lock()
	s.wsClients[conn] = true
	err = s.writeWS(conn, WSMessage{Type: "state", Data: newStateView(s.session.Store().Snapshot())})
	s.wsMutex.Unlock()
	if err != nil {
		s.log.Errorf("Failed to write WebSocket message: %v", err)
	}

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := s.writeWS(conn, message); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

// writeWS must be called with wsMutex held; a connection allows one writer.
func (s *Server) writeWS(conn *websocket.Conn, message WSMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(message)
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Warn("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}

func (s *Server) writeBytes(w http.ResponseWriter, contentType string, data []byte) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.log.WithError(err).Warn("Failed to write response body")
	}
}

// declaredType prefers the part's Content-Type and sniffs the content when the
// client sent none or a generic one.
func declaredType(header string, data []byte) string {
	if header != "" && header != "application/octet-stream" {
		return header
	}
	return http.DetectContentType(data)
}

func newImageView(rec store.ImageRecord) ImageView {
	return ImageView{
		ID:                 rec.ID,
		Name:               rec.Name,
		Type:               rec.DeclaredType,
		OriginalSize:       rec.OriginalSize,
		CompressedSize:     rec.CompressedSize,
		OriginalSizeText:   statistics.FormatSize(rec.OriginalSize),
		CompressedSizeText: statistics.FormatSize(rec.CompressedSize),
		Savings:            rec.Savings,
		Width:              rec.Width,
		Height:             rec.Height,
		Preview:            rec.Preview,
		Download:           "/api/images/" + rec.ID + "/download",
		Metadata:           rec.Metadata,
	}
}

func newStateView(state store.State) StateView {
	view := StateView{
		Images:     make([]ImageView, len(state.Images)),
		Quality:    state.Quality,
		Processing: state.Processing,
	}
	var original, compressed int64
	for i, rec := range state.Images {
		view.Images[i] = newImageView(rec)
		original += rec.OriginalSize
		compressed += rec.CompressedSize
	}
	view.TotalOriginalSize = statistics.FormatSize(original)
	view.TotalCompressedSize = statistics.FormatSize(compressed)
	view.TotalSavings = store.SavingsPercent(original, compressed)
	return view
}
