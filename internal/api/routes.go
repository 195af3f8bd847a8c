package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"llm-branch/internal/ai"
	"llm-branch/internal/store"
	"llm-branch/pkg/branch"
)

// Config defines server dependencies.
type Config struct {
	DBPath            string
	SilentDB          bool
	AllowedOrigins    []string
	AIConfig          ai.Config
	DefaultModel      string
	DefaultCredential string
	Workers           int
	// Backend overrides the backend built from AIConfig.
	Backend branch.Backend
}

// Server wires HTTP handlers with the decision engine and the history store.
type Server struct {
	db             *store.Database
	brancher       *branch.Brancher
	provider       string
	defaultModel   string
	credential     string
	allowedOrigins []string
	notifier       *DecisionNotifier
	workers        int
}

// NewServer constructs the API server. The store is optional; without a
// DBPath decisions are served but not recorded.
func NewServer(cfg Config) (*Server, error) {
	backend := cfg.Backend
	if backend == nil {
		built, err := ai.New(cfg.AIConfig)
		if err != nil {
			return nil, errors.Wrap(err, "ai backend")
		}
		backend = built
	}

	var db *store.Database
	if strings.TrimSpace(cfg.DBPath) == "" {
		logrus.Info("decision history disabled - no database path configured")
	} else {
		opened, err := store.Open(cfg.DBPath, cfg.SilentDB)
		if err != nil {
			return nil, err
		}
		db = opened
	}

	if strings.TrimSpace(cfg.DefaultCredential) == "" {
		logrus.Warn("no default API key configured; requests must supply api_key")
	}

	server := &Server{
		db:             db,
		brancher:       branch.New(backend, branch.WithLogger(logrus.StandardLogger())),
		provider:       backend.Name(),
		defaultModel:   strings.TrimSpace(cfg.DefaultModel),
		credential:     strings.TrimSpace(cfg.DefaultCredential),
		allowedOrigins: cfg.AllowedOrigins,
		notifier:       NewDecisionNotifier(),
		workers:        determineWorkerCount(cfg.Workers),
	}
	logrus.WithFields(logrus.Fields{
		"backend": server.provider,
		"model":   server.defaultModel,
		"workers": server.workers,
		"history": db != nil,
	}).Info("decision server configured")
	return server, nil
}

// Close releases the history store.
func (s *Server) Close() error {
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	api := r.Group("/api")
	{
		api.POST("/decide", s.handleDecide)
		api.POST("/decide/batch", s.handleDecideBatch)
		api.GET("/decisions", s.handleListDecisions)
		api.GET("/decisions/stream", s.handleDecisionStream)
		api.GET("/decisions/:id", s.handleGetDecision)
		api.GET("/batches/:id", s.handleGetBatch)
		api.GET("/export.csv", s.handleExportCSV)
		api.GET("/export.json", s.handleExportJSON)
	}

	return r, nil
}

func (s *Server) backendName() string {
	return s.provider
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	var stored int64
	if s.db != nil {
		count, err := s.db.CountDecisions()
		if err != nil {
			s.renderError(c, http.StatusInternalServerError, err)
			return
		}
		stored = count
	}
	c.JSON(http.StatusOK, gin.H{
		"backend":            s.provider,
		"default_model":      s.defaultModel,
		"default_credential": s.credential != "",
		"history":            s.db != nil,
		"stored_decisions":   stored,
		"workers":            s.workers,
		"stream_clients":     s.notifier.Clients(),
		"last_event":         s.notifier.LastEvent(),
	})
}

func (s *Server) handleDecide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	c.JSON(http.StatusOK, s.decide(c.Request.Context(), req, nil))
}

func (s *Server) handleDecideBatch(c *gin.Context) {
	var req BatchDecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, errors.Wrap(err, "invalid batch request"))
		return
	}
	c.JSON(http.StatusOK, s.decideBatch(c.Request.Context(), req))
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.db == nil {
		s.renderError(c, http.StatusServiceUnavailable, errors.New("decision history disabled"))
		return false
	}
	return true
}

func (s *Server) decisionQuery(c *gin.Context) (store.DecisionQuery, error) {
	query := store.DecisionQuery{
		Query: strings.TrimSpace(c.Query("q")),
		Model: strings.TrimSpace(c.Query("model")),
		Sort:  c.Query("sort"),
	}
	if value := strings.TrimSpace(c.Query("succeeded")); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return query, errors.Newf("invalid succeeded: %s", value)
		}
		query.Succeeded = &parsed
	}
	if value := strings.TrimSpace(firstNonEmpty(c.Query("batch_id"), c.Query("batchId"))); value != "" {
		batchID, err := parseUintParam(value)
		if err != nil {
			return query, errors.Wrap(err, "invalid batch_id")
		}
		query.BatchID = batchID
	}
	return query, nil
}

func (s *Server) handleListDecisions(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	query, err := s.decisionQuery(c)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 25
	}
	query.Offset = page * pageSize
	query.Limit = pageSize

	rows, total, err := s.db.ListDecisions(query)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]DecisionDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	c.JSON(http.StatusOK, DecisionsResponse{Items: dtos, Total: total})
}

func (s *Server) handleGetDecision(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	decision, err := s.db.GetDecision(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, errors.Newf("decision %d not found", id))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, FromModel(*decision))
}

func (s *Server) handleGetBatch(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	batch, err := s.db.GetBatch(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, errors.Newf("batch %d not found", id))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, BatchFromModel(*batch))
}

func (s *Server) handleDecisionStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("decision websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("decision websocket closed")
			} else {
				logrus.WithError(err).Warn("decision websocket unexpected close")
			}
			break
		}
	}
}

func (s *Server) exportRows(c *gin.Context) ([]store.Decision, bool) {
	if !s.requireStore(c) {
		return nil, false
	}
	query, err := s.decisionQuery(c)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return nil, false
	}
	query.Limit = -1
	query.Sort = firstNonEmpty(query.Sort, "created_asc")
	rows, _, err := s.db.ListDecisions(query)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return nil, false
	}
	return rows, true
}

func (s *Server) handleExportCSV(c *gin.Context) {
	rows, ok := s.exportRows(c)
	if !ok {
		return
	}

	c.Header("Content-Disposition", "attachment; filename=decisions-export.csv")
	c.Header("Content-Type", "text/csv")

	writer := csv.NewWriter(c.Writer)
	headers := []string{"id", "request_id", "created_at", "condition", "choices", "else", "model", "backend", "response", "result", "message", "latency_ms"}
	if err := writer.Write(headers); err != nil {
		return
	}
	for _, row := range rows {
		dto := FromModel(row)
		line := []string{
			strconv.FormatUint(uint64(dto.ID), 10),
			dto.RequestID,
			dto.CreatedAt.UTC().Format(time.RFC3339),
			dto.Condition,
			strings.Join(dto.Choices, "|"),
			dto.Else,
			dto.Model,
			dto.Backend,
			strconv.FormatBool(dto.Response),
			dto.Result,
			dto.Message,
			strconv.FormatInt(dto.LatencyMs, 10),
		}
		if err := writer.Write(line); err != nil {
			return
		}
	}
	writer.Flush()
}

func (s *Server) handleExportJSON(c *gin.Context) {
	rows, ok := s.exportRows(c)
	if !ok {
		return
	}
	dtos := make([]DecisionDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	c.Header("Content-Disposition", "attachment; filename=decisions-export.json")
	c.JSON(http.StatusOK, dtos)
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseUintParam(value string) (uint, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("identifier is required")
	}
	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "invalid identifier")
	}
	if parsed == 0 {
		return 0, errors.New("identifier must be greater than zero")
	}
	return uint(parsed), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
