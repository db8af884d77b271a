package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rvm-io/rvm-server/internal/lifecycle"
	"github.com/rvm-io/rvm-server/internal/logx"
	"github.com/rvm-io/rvm-server/internal/model"
	"github.com/rvm-io/rvm-server/internal/reconcile"
	"github.com/rvm-io/rvm-server/internal/service"
	"github.com/rvm-io/rvm-server/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type RunHandler struct {
	svc        *service.RunService
	hub        *stream.Hub
	drainState *lifecycle.DrainManager
}

func NewRunHandler(svc *service.RunService, hub *stream.Hub, drainState *lifecycle.DrainManager) *RunHandler {
	return &RunHandler{svc: svc, hub: hub, drainState: drainState}
}

func (h *RunHandler) RegisterRoutes(r *gin.RouterGroup) {
	runs := r.Group("/runs")
	{
		runs.POST("", h.Trigger)
		runs.GET("", h.List)
		runs.GET("/:id", h.Get)
		runs.GET("/:id/events", h.Events)
	}
}

// Trigger starts a reconciliation run and blocks until it sweeps to
// completion. 200 means the sweep ran; per-item failures are in the body.
// 500 is reserved for a run that could not begin at all.
func (h *RunHandler) Trigger(c *gin.Context) {
	if h.drainState.IsDraining() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is draining"})
		return
	}

	var req model.TriggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bucket, key, err := req.Resolve()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	triggerType := "api"
	if req.IsEvent() {
		triggerType = "s3_event"
	}

	release := h.drainState.TrackRun()
	defer release()

	ctx := logx.WithRequestID(c.Request.Context(), logx.RequestIDFromGin(c))
	resp, err := h.svc.Trigger(ctx, triggerType, bucket, key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RunHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	resp, err := h.svc.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RunHandler) Get(c *gin.Context) {
	resp, err := h.svc.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Events streams a live run's progress over a websocket: buffered events
// first, then new ones until the run completes. For finished runs the
// persisted items are sent instead, followed by close.
func (h *RunHandler) Events(c *gin.Context) {
	runID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	release := h.drainState.TrackWebSocket()
	defer release()

	replay, ch, cancel, live := h.hub.Subscribe(runID)
	if !live {
		h.sendFinishedRun(c, conn, runID)
		return
	}
	defer cancel()

	for _, ev := range replay {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run completed"))
}

func (h *RunHandler) sendFinishedRun(c *gin.Context, conn *websocket.Conn, runID string) {
	detail, err := h.svc.GetRun(c.Request.Context(), runID)
	if err != nil || detail == nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "run not found"))
		return
	}
	for i := range detail.Items {
		item := &detail.Items[i]
		ev := stream.RunEvent{
			RunID:     runID,
			Time:      item.CreatedAt,
			Type:      "outcome",
			AccountID: item.AccountID,
			Outcome: &reconcile.Outcome{
				Kind:         reconcile.OutcomeKind(item.Kind),
				TemplateFile: item.TemplateFile,
				StackName:    item.StackName,
				AccountID:    item.AccountID,
				Detail:       item.Detail,
			},
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run completed"))
}
