package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lecturequiz"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	sessionName   = "lecturequiz-session"
	sessionMaxAge = 24 * time.Hour

	ownerIDKey   = "owner_id"
	ownerNameKey = "owner_name"

	defaultListLimit = 50
)

type Server struct {
	pipeline       *lecturequiz.QuizPipeline
	sessions       sessions.Store
	logger         *lecturequiz.Logger
	maxUploadBytes int64
}

// Response is the envelope of every JSON reply
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Code: status, Message: "success", Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{Code: status, Message: message})
}

// Router builds the gin engine. reg receives the HTTP collectors and is
// served on /metrics.
func (s *Server) Router(reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), newHTTPMetrics(reg).middleware())
	r.MaxMultipartMemory = 8 << 20

	r.GET("/healthz", func(c *gin.Context) { success(c, http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	r.POST("/api/session", s.handleLogin)
	r.DELETE("/api/session", s.handleLogout)

	quizzes := r.Group("/api/quizzes", s.requireOwner())
	quizzes.POST("", s.handleUpload)
	quizzes.GET("", s.handleList)
	quizzes.GET("/:id", s.handleGetQuiz)
	quizzes.POST("/:id/start", s.handleStart)
	quizzes.POST("/:id/submit", s.handleSubmit)
	quizzes.GET("/:id/result", s.handleResult)
	quizzes.POST("/:id/reset", s.handleReset)
	quizzes.POST("/:id/regenerate", s.handleRegenerate)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lecturequiz_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lecturequiz_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 60},
		}, []string{"method", "endpoint"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

func (m *httpMetrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

type loginRequest struct {
	OwnerID   string `json:"owner_id" binding:"required"`
	OwnerName string `json:"owner_name"`
}

// handleLogin binds an identity established elsewhere to the session
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	session, _ := s.sessions.Get(c.Request, sessionName)
	session.Values[ownerIDKey] = strings.TrimSpace(req.OwnerID)
	session.Values[ownerNameKey] = strings.TrimSpace(req.OwnerName)
	if err := session.Save(c.Request, c.Writer); err != nil {
		s.logger.Error("failed to save session", "error", err)
		fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	success(c, http.StatusOK, gin.H{"owner_id": req.OwnerID})
}

func (s *Server) handleLogout(c *gin.Context) {
	session, _ := s.sessions.Get(c.Request, sessionName)
	session.Options.MaxAge = -1
	if err := session.Save(c.Request, c.Writer); err != nil {
		s.logger.Warn("failed to clear session", "error", err)
	}
	success(c, http.StatusOK, nil)
}

// requireOwner rejects requests whose session carries no owner
func (s *Server) requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := s.sessions.Get(c.Request, sessionName)
		if err != nil {
			s.writeError(c, lecturequiz.ErrMissingOwner)
			return
		}
		ownerID, _ := session.Values[ownerIDKey].(string)
		if ownerID == "" {
			s.writeError(c, lecturequiz.ErrMissingOwner)
			return
		}
		ownerName, _ := session.Values[ownerNameKey].(string)
		c.Set(ownerIDKey, ownerID)
		c.Set(ownerNameKey, ownerName)
		c.Next()
	}
}

// writeError maps pipeline errors onto HTTP statuses
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lecturequiz.ErrMissingUpload):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, lecturequiz.ErrMissingOwner):
		fail(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, lecturequiz.ErrNoExtractableText):
		fail(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, lecturequiz.ErrQuizNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, lecturequiz.ErrQuizCompleted):
		fail(c, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
		fail(c, http.StatusInternalServerError, "Internal server error")
	}
}

// ownedQuiz loads the quiz and hides quizzes owned by someone else
func (s *Server) ownedQuiz(c *gin.Context) (*lecturequiz.Quiz, []lecturequiz.Question, bool) {
	quiz, questions, err := s.pipeline.GetQuizForTaking(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return nil, nil, false
	}
	if quiz.OwnerID != c.GetString(ownerIDKey) {
		s.writeError(c, lecturequiz.ErrQuizNotFound)
		return nil, nil, false
	}
	return quiz, questions, true
}

func (s *Server) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		s.writeError(c, lecturequiz.ErrMissingUpload)
		return
	}
	if s.maxUploadBytes > 0 && fh.Size > s.maxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.maxUploadBytes>>20))
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.writeError(c, fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		s.writeError(c, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	quiz, err := s.pipeline.CreateQuizFromUpload(c.Request.Context(), lecturequiz.RawDocument{
		Content:   content,
		Extension: filepath.Ext(fh.Filename),
		Filename:  fh.Filename,
		OwnerID:   c.GetString(ownerIDKey),
		OwnerName: c.GetString(ownerNameKey),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	success(c, http.StatusCreated, quiz)
}

func (s *Server) handleList(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		limit = defaultListLimit
	}
	quizzes, err := s.pipeline.ListQuizzes(c.Request.Context(), c.GetString(ownerIDKey), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"items": quizzes, "total": len(quizzes)})
}

// questionView is a question as shown while taking the quiz, without the
// expected answer
type questionView struct {
	Number     int                      `json:"number"`
	Type       lecturequiz.QuestionType `json:"type"`
	TypeLabel  string                   `json:"type_label"`
	Prompt     string                   `json:"prompt"`
	Options    []string                 `json:"options"`
	PageNumber *int                     `json:"page_number,omitempty"`
}

func toQuestionViews(questions []lecturequiz.Question) []questionView {
	views := make([]questionView, 0, len(questions))
	for _, q := range questions {
		views = append(views, questionView{
			Number:     q.Position,
			Type:       q.Type,
			TypeLabel:  q.Type.DisplayName(),
			Prompt:     q.Prompt,
			Options:    q.Options,
			PageNumber: q.PageNumber,
		})
	}
	return views
}

func (s *Server) handleGetQuiz(c *gin.Context) {
	quiz, questions, ok := s.ownedQuiz(c)
	if !ok {
		return
	}
	success(c, http.StatusOK, gin.H{"quiz": quiz, "questions": toQuestionViews(questions)})
}

func (s *Server) handleStart(c *gin.Context) {
	if _, _, ok := s.ownedQuiz(c); !ok {
		return
	}
	quiz, err := s.pipeline.StartQuiz(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	success(c, http.StatusOK, quiz)
}

type submitRequest struct {
	// Answers is keyed by question number
	Answers          map[int]string `json:"answers"`
	TimeTakenSeconds *int           `json:"time_taken_seconds"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	if _, _, ok := s.ownedQuiz(c); !ok {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	timeTaken := -1
	if req.TimeTakenSeconds != nil && *req.TimeTakenSeconds >= 0 {
		timeTaken = *req.TimeTakenSeconds
	}

	result, err := s.pipeline.SubmitAnswers(c.Request.Context(), c.Param("id"), req.Answers, timeTaken)
	if err != nil {
		s.writeError(c, err)
		return
	}
	success(c, http.StatusOK, result)
}

func (s *Server) handleResult(c *gin.Context) {
	quiz, _, ok := s.ownedQuiz(c)
	if !ok {
		return
	}
	if quiz.Status != lecturequiz.StatusCompleted {
		fail(c, http.StatusConflict, "quiz has not been submitted yet")
		return
	}
	result, err := s.pipeline.GetResult(c.Request.Context(), quiz.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	success(c, http.StatusOK, result)
}

func (s *Server) handleReset(c *gin.Context) {
	if _, _, ok := s.ownedQuiz(c); !ok {
		return
	}
	quiz, err := s.pipeline.ResetAttempt(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	success(c, http.StatusOK, quiz)
}

func (s *Server) handleRegenerate(c *gin.Context) {
	if _, _, ok := s.ownedQuiz(c); !ok {
		return
	}
	quiz, err := s.pipeline.RegenerateQuiz(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	success(c, http.StatusOK, quiz)
}
