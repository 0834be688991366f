package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoattend/internal/assignment"
	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/config"
	"geoattend/internal/geo"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/queue"
	"geoattend/internal/session"
	"geoattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	assignRepo := assignment.NewRepository(db.Client)
	gate := assignment.NewGate(assignRepo)

	sessRepo := session.NewRepository(db.Client)
	manager := session.NewManager(sessRepo, gate, session.Defaults{
		TeacherRadiusM: cfg.TeacherRadiusM,
		CampusCenter:   geo.Point{Lat: cfg.CampusLat, Lng: cfg.CampusLng},
		CampusRadiusM:  cfg.CampusRadiusM,
	})

	recordRepo := attendance.NewRepository(db.Client)
	pipeline := attendance.NewService(manager, recordRepo, cfg.MaxAccuracyM, cfg.LocationStaleAfter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Teacher fixes come in through the queue; one consumer keeps the
	// single-writer-per-session discipline.
	go consumeLocations(ctx, q, manager)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/teachers/register", func(c *gin.Context) {
		var req struct {
			TeacherID   string `json:"teacher_id" binding:"required"`
			Name        string `json:"name"`
			Assignments []struct {
				Semester    int    `json:"semester" binding:"required"`
				Division    string `json:"division" binding:"required"`
				SubjectCode string `json:"subject_code" binding:"required"`
				SubjectName string `json:"subject_name"`
			} `json:"assignments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := assignRepo.UpsertTeacher(c.Request.Context(), req.TeacherID, req.Name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for _, a := range req.Assignments {
			if _, err := assignRepo.Insert(c.Request.Context(), assignment.Assignment{
				TeacherID:   req.TeacherID,
				Semester:    a.Semester,
				Division:    a.Division,
				SubjectCode: a.SubjectCode,
				SubjectName: a.SubjectName,
			}); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		tokens, err := auth.Issue(req.TeacherID, auth.RoleTeacher, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/students/register", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			Name      string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := recordRepo.UpsertStudent(c.Request.Context(), req.StudentID, req.Name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.StudentID, auth.RoleStudent, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authed := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))
	teacherOnly := authed.Group("", auth.RequireRole(auth.RoleTeacher))

	teacherOnly.POST("/assignments", func(c *gin.Context) {
		var req struct {
			Semester    int    `json:"semester" binding:"required"`
			Division    string `json:"division" binding:"required"`
			SubjectCode string `json:"subject_code" binding:"required"`
			SubjectName string `json:"subject_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a, err := assignRepo.Insert(c.Request.Context(), assignment.Assignment{
			TeacherID:   auth.FromContext(c).Subject,
			Semester:    req.Semester,
			Division:    req.Division,
			SubjectCode: req.SubjectCode,
			SubjectName: req.SubjectName,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, a)
	})

	teacherOnly.GET("/assignments", func(c *gin.Context) {
		list, err := assignRepo.ListByTeacher(c.Request.Context(), auth.FromContext(c).Subject)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"assignments": list})
	})

	teacherOnly.DELETE("/assignments/:id", func(c *gin.Context) {
		if err := assignRepo.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
	})

	teacherOnly.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Semester    int       `json:"semester" binding:"required"`
			Division    string    `json:"division" binding:"required"`
			SubjectCode string    `json:"subject_code" binding:"required"`
			Location    geo.Point `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sess, err := manager.Start(c.Request.Context(), auth.FromContext(c).Subject,
			req.Semester, req.Division, req.SubjectCode, req.Location)
		if err != nil {
			if errors.Is(err, assignment.ErrNotAuthorized) {
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, sess)
	})

	teacherOnly.PUT("/sessions/:id/location", func(c *gin.Context) {
		var pt geo.Point
		if err := c.ShouldBindJSON(&pt); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := manager.UpdateLocation(c.Request.Context(), c.Param("id"), pt)
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrSessionClosed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrStaleFix):
			c.JSON(http.StatusOK, gin.H{"status": "discarded", "reason": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "applied"})
		}
	})

	teacherOnly.POST("/sessions/:id/end", func(c *gin.Context) {
		var req struct {
			Outcome string `json:"outcome" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := manager.End(c.Request.Context(), c.Param("id"), session.Status(req.Outcome))
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrSessionClosed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"status": req.Outcome})
		}
	})

	teacherOnly.GET("/sessions/:id", func(c *gin.Context) {
		snap, err := manager.Snapshot(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	teacherOnly.GET("/sessions/:id/records", func(c *gin.Context) {
		var (
			records []attendance.Record
			err     error
		)
		// ?window=30s narrows to recent attempts for the live view.
		if w := c.Query("window"); w != "" {
			window, perr := time.ParseDuration(w)
			if perr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window"})
				return
			}
			records, err = recordRepo.RecentAttempts(c.Request.Context(), c.Param("id"), window, 50)
		} else {
			records, err = pipeline.ListBySession(c.Request.Context(), c.Param("id"))
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	teacherOnly.POST("/sessions/:id/records/export", func(c *gin.Context) {
		n, err := recordRepo.MarkExported(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"exported": n})
	})

	authed.POST("/attendance", auth.RequireRole(auth.RoleStudent), func(c *gin.Context) {
		var req struct {
			SessionID   string    `json:"session_id" binding:"required"`
			StudentName string    `json:"student_name"`
			DeviceID    string    `json:"device_id"`
			Location    geo.Point `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rec, err := pipeline.Submit(c.Request.Context(), attendance.Submission{
			SessionID:   req.SessionID,
			StudentID:   auth.FromContext(c).Subject,
			StudentName: req.StudentName,
			DeviceID:    req.DeviceID,
			Location:    req.Location,
		})
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrSessionClosed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, attendance.ErrAlreadyMarked):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "record": rec})
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case rec.Marked:
			c.JSON(http.StatusCreated, rec)
		default:
			c.JSON(http.StatusOK, gin.H{"record": rec, "accepted": false, "reason": rec.Reason})
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// consumeLocations drains teacher fixes from the queue into the manager.
// Stale fixes are expected under network jitter and only logged.
func consumeLocations(ctx context.Context, q queue.Queue, manager *session.Manager) {
	pings, err := q.Consume(ctx)
	if err != nil {
		log.Printf("location consumer init failed: %v", err)
		return
	}
	for ping := range pings {
		pt := geo.Point{Lat: ping.Lat, Lng: ping.Lng, AccuracyM: ping.AccuracyM, CapturedAt: ping.CapturedAt}
		err := manager.UpdateLocation(ctx, ping.SessionID, pt)
		switch {
		case errors.Is(err, session.ErrStaleFix):
			log.Printf("session %s: stale fix discarded", ping.SessionID)
		case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrSessionNotFound):
			log.Printf("session %s: fix dropped: %v", ping.SessionID, err)
		case err != nil:
			log.Printf("session %s: location update failed: %v", ping.SessionID, err)
		}
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
