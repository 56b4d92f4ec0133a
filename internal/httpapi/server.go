// Package httpapi exposes the tool runner, the shell gate and the agent over HTTP.
package httpapi

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stellarlinkco/nova/internal/memory"
	"github.com/stellarlinkco/nova/internal/safety"
	"github.com/stellarlinkco/nova/internal/tools"
)

const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 10 << 20

	defaultHistory = 20
	maxHistory     = 200
)

//go:embed static
var staticFiles embed.FS

const noSecretMessage = "set gateway.apiSecret to enable this route"

// ChatFunc answers a chat message for a session.
type ChatFunc func(ctx context.Context, sessionID, message string) (string, error)

// HistoryFunc returns up to limit stored exchanges, oldest first.
type HistoryFunc func(limit int) ([]memory.Conversation, error)

type Options struct {
	Runner *tools.Runner
	// Gate backs /api/shell/check. The route answers 503 when nil.
	Gate *safety.Gate
	// Chat backs /api/chat. The route answers 503 when nil.
	Chat    ChatFunc
	History HistoryFunc
	// UploadDir receives /api/upload files. Uploads answer 503 when empty.
	UploadDir string
	// Socket is mounted at /ws for pushed messages.
	Socket http.Handler
	// Secret signs bearer tokens. While it is empty the routes that run
	// tools or the agent answer 403 and the rest are served without auth.
	Secret string
	Logger *zap.Logger
}

type Server struct {
	router    chi.Router
	runner    *tools.Runner
	gate      *safety.Gate
	chat      ChatFunc
	history   HistoryFunc
	uploadDir string
	logger    *zap.Logger
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	uploadDir := opts.UploadDir
	if uploadDir != "" {
		if abs, err := filepath.Abs(uploadDir); err == nil {
			uploadDir = abs
		}
	}
	s := &Server{
		runner:    opts.Runner,
		gate:      opts.Gate,
		chat:      opts.Chat,
		history:   opts.History,
		uploadDir: uploadDir,
		logger:    logger.Named("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if opts.Secret != "" {
			r.Use(RequireBearer(opts.Secret))
		}
		r.Get("/tools", s.listTools)
		r.Post("/shell/check", s.checkShell)

		r.Group(func(r chi.Router) {
			r.Use(requireSecret(opts.Secret))
			r.Post("/tools/{name}", s.runTool)
			r.Post("/chat", s.handleChat)
			r.Post("/upload", s.handleUpload)
			r.Get("/history", s.handleHistory)
		})
	})

	if opts.Socket != nil {
		r.With(requireSecret(opts.Secret), RequireBearer(opts.Secret)).Handle("/ws", opts.Socket)
	}

	client, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	r.Handle("/*", http.FileServer(http.FS(client)))

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	descs := s.runner.Registry().Descriptors()
	writeJSON(w, http.StatusOK, map[string]any{"tools": descs, "count": len(descs)})
}

func (s *Server) runTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	params, err := tools.ParseParams(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.runner.Execute(r.Context(), name, params)
	status := http.StatusOK
	if res.ErrorKind == tools.KindToolNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, res)
}

type shellCheckRequest struct {
	Command string `json:"command"`
}

type shellCheckResponse struct {
	Command  string `json:"command"`
	Allowed  bool   `json:"allowed"`
	Decision string `json:"decision"`
	Token    string `json:"token,omitempty"`
	Rule     string `json:"rule,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) checkShell(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		writeError(w, http.StatusServiceUnavailable, "shell gate not configured")
		return
	}
	var req shellCheckRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	v := s.gate.Evaluate(req.Command)
	writeJSON(w, http.StatusOK, shellCheckResponse{
		Command:  req.Command,
		Allowed:  v.Allowed(),
		Decision: v.Decision.String(),
		Token:    v.Token,
		Rule:     v.Rule,
		Reason:   v.Reason(),
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	// FilePath references a file returned by /api/upload.
	FilePath string `json:"file_path,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	message := strings.TrimSpace(req.Message)
	if req.FilePath != "" {
		path, err := s.attachment(req.FilePath)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		message = strings.TrimSpace(fmt.Sprintf("[ATTACHED_FILE:%s]\n%s", path, message))
	}
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	session := req.SessionID
	if session == "" {
		session = "http"
	}

	reply, err := s.chat(r.Context(), session, message)
	if err != nil {
		s.logger.Warn("chat failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

// attachment resolves an uploaded file path, which must live in the upload dir.
func (s *Server) attachment(p string) (string, error) {
	if s.uploadDir == "" {
		return "", errors.New("uploads are not configured")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("invalid file_path: %w", err)
	}
	rel, err := filepath.Rel(s.uploadDir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("file_path is not an upload")
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("file_path: %w", err)
	}
	return abs, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploadDir == "" {
		writeError(w, http.StatusServiceUnavailable, "uploads are not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required: "+err.Error())
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dst := filepath.Join(s.uploadDir, uuid.NewString()+"-"+name)
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	n, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		writeError(w, http.StatusBadRequest, "store upload: "+err.Error())
		return
	}
	s.logger.Info("upload stored", zap.String("path", dst), zap.Int64("bytes", n))
	writeJSON(w, http.StatusOK, map[string]any{"file_path": dst, "name": name, "size": n})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "memory not configured")
		return
	}
	limit := defaultHistory
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistory)
	}
	convs, err := s.history(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if convs == nil {
		convs = []memory.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": convs, "count": len(convs)})
}

// requireSecret refuses the wrapped routes while no API secret is set.
func requireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret != "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusForbidden, noSecretMessage)
		})
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
