package mastercore

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/registry"
)

func (c *Core) registerRoutes(engine *gin.Engine) {
	engine.GET("/coordination/health", c.handleHealth)
	engine.POST("/coordination/workers/register", c.handleRegister)
	engine.DELETE("/coordination/workers/:id", c.handleDeregister)
	engine.POST("/coordination/workers/:id/heartbeat", c.handleHeartbeat)
	engine.GET("/coordination/workers", c.handleListWorkers)
	engine.POST("/coordination/tools/:tool", c.handleToolCallHTTP)
}

func (c *Core) handleHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"instanceId":  c.cfg.InstanceID,
		"uptime":      c.Uptime().Milliseconds(),
		"workerCount": c.registry.Len(),
		"version":     c.cfg.Version,
		"timestamp":   time.Now().Unix(),
	})
}

type registerRequestBody struct {
	InstanceID    string   `json:"instanceId" binding:"required"`
	WorkspaceName string   `json:"workspaceName"`
	WorkspacePath string   `json:"workspacePath"`
	Port          int      `json:"port" binding:"required"`
	Capabilities  []string `json:"capabilities"`
	Version       string   `json:"version"`
}

func (c *Core) handleRegister(ctx *gin.Context) {
	var body registerRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	result, err := c.registry.Register(registry.RegisterRequest{
		InstanceID:    body.InstanceID,
		WorkspaceName: body.WorkspaceName,
		WorkspacePath: body.WorkspacePath,
		Port:          body.Port,
		Capabilities:  body.Capabilities,
		Version:       body.Version,
	})
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"success":           true,
		"instanceId":        body.InstanceID,
		"masterInstanceId":  c.cfg.InstanceID,
		"heartbeatInterval": result.HeartbeatInterval.Milliseconds(),
	})
}

func (c *Core) handleDeregister(ctx *gin.Context) {
	c.registry.Deregister(ctx.Param("id"))
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

type heartbeatRequestBody struct {
	InstanceID string                    `json:"instanceId"`
	Status     coordination.WorkerStatus `json:"status"`
	Timestamp  int64                     `json:"timestamp"`
}

func (c *Core) handleHeartbeat(ctx *gin.Context) {
	var body heartbeatRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	ts := time.Now()
	if body.Timestamp > 0 {
		ts = time.Unix(body.Timestamp, 0)
	}

	result := c.registry.Heartbeat(ctx.Param("id"), body.Status, ts)
	ctx.JSON(http.StatusOK, gin.H{
		"success":          true,
		"masterStatus":     result.MasterStatus,
		"shouldReregister": result.ShouldReregister,
	})
}

func (c *Core) handleListWorkers(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"workers": c.registry.List()})
}

func (c *Core) handleToolCallHTTP(ctx *gin.Context) {
	tool := ctx.Param("tool")

	var params map[string]any
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&params); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	result, err := c.HandleToolCall(ctx.Request.Context(), tool, params)
	if err != nil {
		ctx.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, result)
}
