// Package diagnostics exposes the running corrector over a local HTTP API.
package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/offlinefirst/visionfix/pkg/calibration"
	"github.com/offlinefirst/visionfix/pkg/loop"
)

// StatusSource reports loop state.
type StatusSource interface {
	Status() loop.Status
}

// VisibilityController toggles the correction surface.
type VisibilityController interface {
	SetVisible(bool)
}

// Options configure the server.
type Options struct {
	Addr        string
	Status      StatusSource
	Visibility  VisibilityController
	Frames      *FrameStore
	Calibration *calibration.Manager
	Logger      *slog.Logger
}

// Server serves the diagnostics API.
type Server struct {
	addr   string
	opts   Options
	router *gin.Engine
	logger *slog.Logger
}

// NewServer builds the router. Status is required; other sources are optional
// and their routes answer 404 when absent.
func NewServer(opts Options) (*Server, error) {
	if opts.Status == nil {
		return nil, errors.New("diagnostics server requires a status source")
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:7465"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	s := &Server{addr: opts.Addr, opts: opts, router: router, logger: logger}
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/gaze", s.handleGaze)
	api.GET("/frame.png", s.handleFrame)
	api.POST("/visibility", s.handleVisibility)

	cal := api.Group("/calibration")
	cal.GET("", s.handleCalibration)
	cal.GET("/preview.png", s.handleCalibrationPreview)
	cal.POST("/start", s.handleCalibrationStart)
	cal.POST("/finish", s.handleCalibrationFinish)
	cal.POST("/cancel", s.handleCalibrationCancel)

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("diagnostics listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.opts.Status.Status()
	body := gin.H{"loop": st}
	if s.opts.Frames != nil {
		_, at, count := s.opts.Frames.Latest()
		body["frames_presented"] = count
		if !at.IsZero() {
			body["last_presented_at"] = at
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleGaze(c *gin.Context) {
	st := s.opts.Status.Status()
	if st.Gaze == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no gaze sample yet", "tracking_active": st.TrackingActive})
		return
	}
	c.JSON(http.StatusOK, st.Gaze)
}

func (s *Server) handleFrame(c *gin.Context) {
	if s.opts.Frames == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame capture disabled"})
		return
	}
	frame, at, _ := s.opts.Frames.Latest()
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame presented yet"})
		return
	}
	c.Header("Last-Modified", at.UTC().Format(http.TimeFormat))
	s.writePNG(c, frame)
}

type visibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

func (s *Server) handleVisibility(c *gin.Context) {
	if s.opts.Visibility == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "visibility control unavailable"})
		return
	}
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.opts.Visibility.SetVisible(*req.Visible)
	c.JSON(http.StatusOK, gin.H{"visible": *req.Visible})
}

func (s *Server) calibration(c *gin.Context) (*calibration.Manager, bool) {
	if s.opts.Calibration == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "calibration unavailable"})
		return nil, false
	}
	return s.opts.Calibration, true
}

func sessionView(sess *calibration.Session) gin.H {
	return gin.H{
		"session_id": sess.ID(),
		"state":      sess.State(),
		"index":      sess.Index(),
		"target":     sess.Target(),
	}
}

func (s *Server) handleCalibration(c *gin.Context) {
	mgr, ok := s.calibration(c)
	if !ok {
		return
	}
	sess := mgr.Current()
	if sess == nil {
		c.JSON(http.StatusOK, gin.H{"state": calibration.StateIdle})
		return
	}
	c.JSON(http.StatusOK, sessionView(sess))
}

func (s *Server) handleCalibrationPreview(c *gin.Context) {
	mgr, ok := s.calibration(c)
	if !ok {
		return
	}
	sess := mgr.Current()
	if sess == nil {
		c.JSON(http.StatusConflict, gin.H{"error": calibration.ErrNotRunning.Error()})
		return
	}
	width := queryInt(c, "width", 640)
	height := queryInt(c, "height", 360)
	img, err := calibration.Preview(width, height, sess.Targets(), sess.Index())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.writePNG(c, img)
}

func (s *Server) handleCalibrationStart(c *gin.Context) {
	mgr, ok := s.calibration(c)
	if !ok {
		return
	}
	sess, started, err := mgr.Start()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	code := http.StatusCreated
	if !started {
		code = http.StatusOK
	}
	body := sessionView(sess)
	body["started"] = started
	c.JSON(code, body)
}

func (s *Server) handleCalibrationFinish(c *gin.Context) {
	mgr, ok := s.calibration(c)
	if !ok {
		return
	}
	res, err := mgr.Finish()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, calibration.ErrNotRunning) || errors.Is(err, calibration.ErrSessionEnded) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCalibrationCancel(c *gin.Context) {
	mgr, ok := s.calibration(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": mgr.Cancel()})
}

func (s *Server) writePNG(c *gin.Context, img image.Image) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > 4096 {
		return fallback
	}
	return v
}
