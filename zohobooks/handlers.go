package zohobooks

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Handlers is the admin HTTP surface over a Syncer.
type Handlers struct {
	syncer    *Syncer
	cursors   CursorStore
	runs      RunStore
	publisher Publisher
	logger    *logrus.Logger
}

func NewHandlers(syncer *Syncer, cursors CursorStore, runs RunStore, publisher Publisher, logger *logrus.Logger) *Handlers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handlers{
		syncer:    syncer,
		cursors:   cursors,
		runs:      runs,
		publisher: publisher,
		logger:    logger,
	}
}

// Register mounts the admin routes on g and the push endpoint on r.
func (h *Handlers) Register(r gin.IRoutes, g gin.IRoutes) {
	g.POST("/zoho/backfill-all", h.BackfillAllHandler())
	g.POST("/zoho/sync", h.SyncHandler())
	g.GET("/zoho/status", h.StatusHandler())
	g.GET("/zoho/sync-runs", h.SyncHistoryHandler())
	r.POST("/pubsub/zoho-sync", h.PubSubPushHandler())
}

// BackfillAllHandler runs a full backfill of every module. With ?async=true the run is
// published to Pub/Sub instead and the handler answers 202.
func (h *Handlers) BackfillAllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := utils.SetTriggeredByInContext(c.Request.Context(), models.SyncTriggeredManual)
		req := SyncRequest{Mode: models.SyncModeFull}

		if async, _ := strconv.ParseBool(c.Query("async")); async {
			h.enqueue(ctx, c, req)
			return
		}
		report := h.syncer.Run(ctx, models.SyncModeFull, h.syncer.Modules())
		c.JSON(reportStatus(report), syncResponse(report))
	}
}

// SyncHandler runs the requested modules (all when omitted) in the requested mode
// (delta when omitted).
func (h *Handlers) SyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SyncRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		if req.Mode == "" {
			req.Mode = models.SyncModeDelta
		}
		modules, unknown := ResolveModules(req.Modules)
		if len(unknown) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown modules: " + strings.Join(unknown, ", ")})
			return
		}

		ctx := utils.SetTriggeredByInContext(c.Request.Context(), models.SyncTriggeredManual)
		if async, _ := strconv.ParseBool(c.Query("async")); async {
			h.enqueue(ctx, c, req)
			return
		}
		report := h.syncer.Run(ctx, req.Mode, modules)
		c.JSON(reportStatus(report), syncResponse(report))
	}
}

func (h *Handlers) enqueue(ctx context.Context, c *gin.Context, req SyncRequest) {
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async sync is not configured"})
		return
	}
	req.CorrelationId = correlationID(ctx)
	req.TriggeredBy = models.SyncTriggeredManual
	msgID, err := h.publisher.Publish(ctx, req)
	if err != nil {
		config.LogError(h.logger, "zohobooks", "enqueue", "publish sync request", req, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to queue sync"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "messageId": msgID, "correlationId": req.CorrelationId})
}

func (h *Handlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cursors, err := h.cursors.ListCursors(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]CursorResponse, 0, len(cursors))
		for _, cur := range cursors {
			out = append(out, CursorResponse{
				Module:       cur.Module,
				Running:      cur.Running,
				RunningSince: formatTime(cur.RunningSince),
				LastSyncAt:   formatTime(cur.LastSyncAt),
				LastError:    cur.LastError,
			})
		}
		c.JSON(http.StatusOK, gin.H{"items": out})
	}
}

func (h *Handlers) SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.runs == nil {
			c.JSON(http.StatusOK, SyncHistoryResponse{Items: []models.SyncRun{}})
			return
		}
		module := strings.TrimSpace(c.Query("module"))
		if module != "" {
			if _, ok := ModuleByName(module); !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown module: " + module})
				return
			}
		}
		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		runs, err := h.runs.ListRuns(c.Request.Context(), module, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if runs == nil {
			runs = []models.SyncRun{}
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: runs})
	}
}

// PubSubPushHandler executes a published SyncRequest. Bad messages, lock rejections and
// Zoho auth/API failures are acked (204); the latter are already recorded on the cursor.
// A storage fault answers 500 so Pub/Sub redelivers the request.
func (h *Handlers) PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			h.logger.WithFields(logrus.Fields{"field": "zohoPubSub"}).Warn("invalid push envelope: " + err.Error())
			c.Status(http.StatusNoContent)
			return
		}
		var req SyncRequest
		if err := json.Unmarshal(envelope.Message.Data, &req); err != nil {
			h.logger.WithFields(logrus.Fields{"field": "zohoPubSub", "message_id": envelope.Message.ID}).Warn("invalid sync payload: " + err.Error())
			c.Status(http.StatusNoContent)
			return
		}
		modules, unknown := ResolveModules(req.Modules)
		if len(unknown) > 0 || (req.Mode != models.SyncModeDelta && req.Mode != models.SyncModeFull) {
			h.logger.WithFields(logrus.Fields{
				"field":      "zohoPubSub",
				"message_id": envelope.Message.ID,
				"mode":       req.Mode,
				"unknown":    unknown,
			}).Warn("dropping sync request")
			c.Status(http.StatusNoContent)
			return
		}

		ctx := c.Request.Context()
		if req.CorrelationId != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, req.CorrelationId)
		}
		ctx = utils.SetTriggeredByInContext(ctx, models.SyncTriggeredPubSub)
		report := h.syncer.Run(ctx, req.Mode, modules)
		if report.Retryable() {
			h.logger.WithFields(logrus.Fields{
				"field":      "zohoPubSub",
				"message_id": envelope.Message.ID,
				"mode":       req.Mode,
			}).Warn("sync request failed on storage, asking for redelivery: " + report.message())
			c.JSON(http.StatusInternalServerError, syncResponse(report))
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// AdminTokenMiddleware requires X-Admin-Token to equal token. An empty token disables the check.
func AdminTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func syncResponse(r Report) SyncResponse {
	if reportStatus(r) == http.StatusOK {
		return SyncResponse{Status: "OK", Report: r}
	}
	return SyncResponse{Status: "ERROR", Message: r.message(), Report: r}
}

// reportStatus: any failed module is a 500; otherwise a module skipped because another
// run held its lock is a 409.
func reportStatus(r Report) int {
	if r.Failed() {
		return http.StatusInternalServerError
	}
	for _, m := range r.Modules {
		if m.Status == models.SyncRunStatusSkipped {
			return http.StatusConflict
		}
	}
	return http.StatusOK
}
