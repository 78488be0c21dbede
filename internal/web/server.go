// Package web serves the question form and a JSON API over a pipeline.
package web

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ragqa/internal/domain"
	"ragqa/internal/logger"
	"ragqa/internal/service"
)

// Answerer is the part of service.Pipeline the web layer needs.
type Answerer interface {
	Answer(ctx context.Context, question string) (*domain.Answer, error)
	Ready() bool
	Summary() string
}

const requestIDHeader = "X-Request-ID"

type answerRequest struct {
	Question string `json:"question" form:"question"`
}

type contextItem struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Used  bool    `json:"used"`
}

type answerResponse struct {
	Question     string        `json:"question"`
	Answer       string        `json:"answer"`
	ContextEmpty bool          `json:"context_empty"`
	Context      []contextItem `json:"context"`
}

type pageData struct {
	Summary  string
	Question string
	Result   *answerResponse
	Error    string
}

// NewRouter builds the gin engine. mode is a gin mode ("release", "debug", "test").
func NewRouter(svc Answerer, mode string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(accessLog())
	router.SetHTMLTemplate(template.Must(template.New("index").Parse(indexHTML)))

	h := &handlers{svc: svc}
	router.GET("/", h.form)
	router.POST("/", h.submit)
	router.POST("/api/answer", h.answerJSON)
	router.GET("/healthz", h.health)
	return router
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type handlers struct {
	svc Answerer
}

func (h *handlers) form(c *gin.Context) {
	c.HTML(http.StatusOK, "index", pageData{Summary: h.svc.Summary()})
}

func (h *handlers) submit(c *gin.Context) {
	var req answerRequest
	_ = c.ShouldBind(&req)
	data := pageData{Summary: h.svc.Summary(), Question: req.Question}

	ans, err := h.svc.Answer(c.Request.Context(), req.Question)
	if err != nil {
		status, _ := errorStatus(err)
		data.Error = err.Error()
		c.HTML(status, "index", data)
		return
	}
	data.Result = toResponse(ans)
	c.HTML(http.StatusOK, "index", data)
}

func (h *handlers) answerJSON(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "invalid_input", "message": err.Error()})
		return
	}
	ans, err := h.svc.Answer(c.Request.Context(), req.Question)
	if err != nil {
		status, code := errorStatus(err)
		logger.Warn("answer failed", "request_id", c.GetString("request_id"), "error", err)
		c.JSON(status, gin.H{"error_code": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toResponse(ans))
}

func (h *handlers) health(c *gin.Context) {
	if !h.svc.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now()})
}

func toResponse(ans *domain.Answer) *answerResponse {
	used := make(map[string]struct{}, len(ans.Used))
	for _, d := range ans.Used {
		used[d.ID] = struct{}{}
	}
	items := make([]contextItem, 0, len(ans.Retrieved))
	for _, r := range ans.Retrieved {
		_, ok := used[r.Document.ID]
		items = append(items, contextItem{ID: r.Document.ID, Text: r.Document.Text, Score: r.Score, Used: ok})
	}
	return &answerResponse{
		Question:     ans.Question,
		Answer:       strings.TrimSpace(ans.Text),
		ContextEmpty: ans.ContextEmpty(),
		Context:      items,
	}
}

// errorStatus maps pipeline errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrEmptyQuestion):
		return http.StatusBadRequest, "empty_question"
	case errors.Is(err, domain.ErrNotInitialized):
		return http.StatusServiceUnavailable, "not_initialized"
	case errors.Is(err, domain.ErrServiceTimeout):
		return http.StatusGatewayTimeout, "service_timeout"
	case errors.Is(err, domain.ErrRetrievalFailure):
		return http.StatusBadGateway, "retrieval_failure"
	case errors.Is(err, domain.ErrGenerationFailure):
		return http.StatusBadGateway, "generation_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
}
