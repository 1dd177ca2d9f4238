// Package httpapi exposes the draw engine over HTTP with gin.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kydenul/luckydraw"
)

// SingleDrawRequest is the body of POST /draw/single
type SingleDrawRequest struct {
	ActivityID int64 `json:"activityId" binding:"required,gt=0"`
}

// MultipleDrawRequest is the body of POST /draw/multiple
type MultipleDrawRequest struct {
	ActivityID int64 `json:"activityId" binding:"required,gt=0"`
	DrawCount  int   `json:"drawCount" binding:"required,min=1,max=10"`
}

// MultipleDrawResponse is the body of a batch response; a truncated batch
// also carries the error code and message
type MultipleDrawResponse struct {
	BatchID    string                 `json:"batchId"`
	Results    []luckydraw.DrawResult `json:"results"`
	TotalDraws int                    `json:"totalDraws"`
	Code       luckydraw.ErrorCode    `json:"code,omitempty"`
	Message    string                 `json:"message,omitempty"`
}

// Handler serves the draw endpoints
type Handler struct {
	drawer luckydraw.Drawer
	logger luckydraw.Logger
}

// NewHandler creates a handler on top of any Drawer (engine or circuit breaker)
func NewHandler(drawer luckydraw.Drawer, logger luckydraw.Logger) *Handler {
	if logger == nil {
		logger = luckydraw.NewSilentLogger()
	}
	return &Handler{drawer: drawer, logger: logger}
}

// NewRouter builds a gin engine with the draw routes behind JWT authentication
func NewRouter(h *Handler, jwtSecret []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api/luckydraw", JWTAuthMiddleware(jwtSecret, h.logger))
	h.Register(api)
	return r
}

// Register mounts the draw routes on group
func (h *Handler) Register(group *gin.RouterGroup) {
	group.POST("/draw/single", h.PerformDraw)
	group.POST("/draw/multiple", h.PerformMultipleDraws)
	group.GET("/activity/list", h.ListActivities)
	group.GET("/user/activity/:activityId", h.GetUserActivityInfo)
	group.GET("/user/activity/:activityId/history", h.GetUserDrawHistory)
}

// PerformDraw handles POST /draw/single
func (h *Handler) PerformDraw(c *gin.Context) {
	var req SingleDrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, luckydraw.ErrInvalidRequest.WithDetails(err.Error()))
		return
	}

	result, err := h.drawer.PerformDraw(c.Request.Context(), req.ActivityID)
	if err != nil {
		h.logger.Error("PerformDraw failed: activity=%d, error=%v", req.ActivityID, err)
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// PerformMultipleDraws handles POST /draw/multiple
func (h *Handler) PerformMultipleDraws(c *gin.Context) {
	var req MultipleDrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, luckydraw.ErrInvalidRequest.WithDetails(err.Error()))
		return
	}

	result, err := h.drawer.PerformMultipleDraws(c.Request.Context(), req.ActivityID, req.DrawCount)
	if err != nil {
		h.logger.Error("PerformMultipleDraws failed: activity=%d, count=%d, error=%v", req.ActivityID, req.DrawCount, err)
		if result == nil {
			abortWithError(c, err)
			return
		}

		// 截断的批次: 返回已完成的结果和错误码
		status, code := StatusFor(err)
		c.AbortWithStatusJSON(status, MultipleDrawResponse{
			BatchID:    result.BatchID,
			Results:    result.Results,
			TotalDraws: result.TotalDraws,
			Code:       code,
			Message:    publicMessage(err, code),
		})
		return
	}

	c.JSON(http.StatusOK, MultipleDrawResponse{
		BatchID:    result.BatchID,
		Results:    result.Results,
		TotalDraws: result.TotalDraws,
	})
}

// ListActivities handles GET /activity/list
func (h *Handler) ListActivities(c *gin.Context) {
	list, err := h.drawer.ListActivities(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetUserActivityInfo handles GET /user/activity/:activityId
func (h *Handler) GetUserActivityInfo(c *gin.Context) {
	activityID, ok := activityIDParam(c)
	if !ok {
		return
	}

	info, err := h.drawer.GetUserActivityInfo(c.Request.Context(), activityID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetUserDrawHistory handles GET /user/activity/:activityId/history
func (h *Handler) GetUserDrawHistory(c *gin.Context) {
	activityID, ok := activityIDParam(c)
	if !ok {
		return
	}

	items, err := h.drawer.GetUserDrawHistory(c.Request.Context(), activityID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func activityIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("activityId"), 10, 64)
	if err != nil || id <= 0 {
		abortWithError(c, luckydraw.ErrInvalidRequest.WithDetails("activityId must be a positive integer"))
		return 0, false
	}
	return id, true
}
