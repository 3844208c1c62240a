// Package server hosts the engine behind an HTTP surface: finalize an
// action's demos into an artifact, open recognition sessions against it, and
// stream frames for live rep counting.
//
// The engine's error taxonomy is mapped to a single structured error envelope
// {"error": "..."} at this edge only; the core never aborts a stream.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/repsense/repsense/engine"
	"github.com/repsense/repsense/engine/learn"
	"github.com/repsense/repsense/engine/pose"
	"github.com/repsense/repsense/engine/store"
)

// Server wires the artifact store and the session registry into gin handlers.
type Server struct {
	store    store.Store
	sessions *sessionRegistry
	spec     *engine.EngineSpec
}

// New creates a Server over the given artifact store. spec may be nil for
// defaults.
func New(st store.Store, spec *engine.EngineSpec) *Server {
	if spec == nil {
		spec = &engine.EngineSpec{}
	}
	return &Server{store: st, sessions: newSessionRegistry(), spec: spec}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := r.Group("/api")
	api.POST("/actions/:id/finalize", s.FinalizeHandler)
	api.POST("/sessions", s.CreateSessionHandler)
	api.POST("/sessions/:token/frames", s.InferHandler)
	api.POST("/sessions/:token/reset", s.ResetHandler)
	api.GET("/sessions/:token/status", s.StatusHandler)
	api.DELETE("/sessions/:token", s.DeleteSessionHandler)

	return r
}

// frameRows is one frame's keypoints as [x, y, conf] rows in COCO order.
type frameRows [][]float64

type finalizeRequest struct {
	Samples []struct {
		Frames []frameRows `json:"frames"`
	} `json:"samples"`
	TargetLength int `json:"target_length"`
}

type finalizeResponse struct {
	Success         bool               `json:"success"`
	ActionID        string             `json:"action_id"`
	TemplatesCount  int                `json:"templates_count"`
	Thresholds      engine.Thresholds  `json:"thresholds"`
	FramesProcessed int                `json:"frames_processed"`
	MedianLen       int                `json:"median_len"`
	Windows         []int              `json:"windows"`
	EnergyStats     map[string]float64 `json:"energy_stats"`
	FeatureWeights  []float64          `json:"feature_weights"`
}

// FinalizeHandler runs the learning pipeline over the posted demo samples and
// persists the resulting artifact. A failed finalize leaves any previous
// artifact for the action intact.
func (s *Server) FinalizeHandler(c *gin.Context) {
	actionID := c.Param("id")
	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	samples := make([]learn.Sample, 0, len(req.Samples))
	for _, sample := range req.Samples {
		frames := make([]pose.Frame, 0, len(sample.Frames))
		for _, rows := range sample.Frames {
			frames = append(frames, pose.FrameFromRows(rows))
		}
		samples = append(samples, learn.Sample{Frames: frames})
	}

	cfg := learn.Config{
		Segment: learn.SegmentConfig{
			MinLen:            s.spec.Segmentation.MinSegmentLength,
			MaxLen:            s.spec.Segmentation.MaxSegmentLength,
			VelocityThreshold: s.spec.Segmentation.VelocityThreshold,
			EnergyThreshold:   s.spec.Segmentation.EnergyThreshold,
			SmoothingWindow:   s.spec.Segmentation.SmoothingWindow,
		},
		BandRatio:    s.spec.BandRatio,
		TargetLength: req.TargetLength,
	}
	if cfg.TargetLength == 0 {
		cfg.TargetLength = s.spec.TargetLength
	}

	artifact, err := learn.FinalizeAction(c.Request.Context(), actionID, samples, cfg)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, engine.ErrInputShape) {
			status = http.StatusBadRequest
		}
		c.AbortWithStatusJSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := s.store.Put(c.Request.Context(), artifact); err != nil {
		logrus.Errorf("persist artifact %s: %v", actionID, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, finalizeResponse{
		Success:         true,
		ActionID:        actionID,
		TemplatesCount:  len(artifact.Templates),
		Thresholds:      artifact.Thresholds,
		FramesProcessed: artifact.TotalFrames,
		MedianLen:       artifact.MedianLen,
		Windows:         artifact.Windows,
		EnergyStats: map[string]float64{
			"p30": artifact.EnergyP30,
			"p50": artifact.EnergyP50,
			"p70": artifact.EnergyP70,
		},
		FeatureWeights: artifact.FeatureWeights,
	})
}

type createSessionRequest struct {
	ActionID     string `json:"action_id"`
	TargetReps   int    `json:"target_reps"`
	ResumeReps   int    `json:"resume_reps"`
	CountOnEntry *bool  `json:"count_on_entry"`
}

// CreateSessionHandler loads the action's artifact and opens a fresh
// recognition session, returning its token.
func (s *Server) CreateSessionHandler(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ActionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing action_id"})
		return
	}
	if req.TargetReps < 0 || req.ResumeReps < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "target_reps and resume_reps must be non-negative"})
		return
	}

	artifact, err := s.store.Get(c.Request.Context(), req.ActionID)
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "action not found", "action_id": req.ActionID})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	countOnEntry := req.CountOnEntry
	if countOnEntry == nil {
		countOnEntry = s.spec.CountOnEntry
	}
	session, err := engine.NewSession(artifact, engine.SessionConfig{
		TargetReps:     req.TargetReps,
		ResumeReps:     req.ResumeReps,
		CountOnEntry:   countOnEntry,
		SmoothingAlpha: s.spec.SmoothingAlpha,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	token := s.sessions.add(session)
	status := session.Status()

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"token":           token,
		"action_id":       req.ActionID,
		"templates_count": status.TemplatesCount,
		"thresholds":      status.Thresholds,
		"window_size":     status.WindowSize,
		"windows":         artifact.Windows,
	})
}

type inferRequest struct {
	Keypoints frameRows `json:"keypoints"`
	Features  []float64 `json:"features"`
}

// InferHandler feeds one frame (raw keypoints or a ready feature vector) to
// the session's recognizer and returns the running recognition state.
func (s *Server) InferHandler(c *gin.Context) {
	entry := s.sessions.get(c.Param("token"))
	if entry == nil {
		res := engine.NotInitializedResult()
		c.JSON(http.StatusNotFound, gin.H{
			"error":      "session not found",
			"state":      res.State,
			"reps":       res.Reps,
			"distance":   res.Distance,
			"thresholds": res.Thresholds,
		})
		return
	}
	var req inferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var res engine.FrameResult
	switch {
	case len(req.Features) > 0:
		var err error
		res, err = entry.session.ProcessFeatures(req.Features)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	case len(req.Keypoints) > 0:
		res = entry.session.ProcessFrame(pose.FrameFromRows(req.Keypoints))
	default:
		// A missed detection: feed an empty frame so timing stays consistent.
		res = entry.session.ProcessFrame(pose.EmptyFrame())
	}
	c.JSON(http.StatusOK, res)
}

// ResetHandler clears the session's recognizer state and caches.
func (s *Server) ResetHandler(c *gin.Context) {
	entry := s.sessions.get(c.Param("token"))
	if entry == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	entry.mu.Lock()
	entry.session.Reset()
	entry.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "reset_success"})
}

// StatusHandler snapshots the session.
func (s *Server) StatusHandler(c *gin.Context) {
	entry := s.sessions.get(c.Param("token"))
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "initialized": false})
		return
	}
	entry.mu.Lock()
	status := entry.session.Status()
	entry.mu.Unlock()
	c.JSON(http.StatusOK, status)
}

// DeleteSessionHandler ends a session and releases its state.
func (s *Server) DeleteSessionHandler(c *gin.Context) {
	if !s.sessions.remove(c.Param("token")) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "session_closed"})
}
