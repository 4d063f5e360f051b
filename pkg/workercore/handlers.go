package workercore

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/athulya-anil/editorfed/pkg/coordination"
)

func (c *Core) registerRoutes(engine *gin.Engine) {
	engine.GET("/health", c.handleHealth)
	engine.POST("/tools/:tool", c.handleToolCall)
	engine.GET("/context", c.handleContext)
	engine.GET("/election/candidate", c.handleElectionCandidate)
	engine.POST("/election/message", c.handleElectionMessage)
	engine.POST("/coordination/shutdown", c.handleShutdownNotice)
}

func (c *Core) handleHealth(ctx *gin.Context) {
	var workspaceName string
	var caps []string
	if c.cfg.Adapter != nil {
		if info, err := c.cfg.Adapter.CurrentWorkspaceInfo(); err == nil {
			workspaceName = info.Name
		}
	}
	if c.cfg.Local != nil {
		caps = c.cfg.Local.GetAvailableTools()
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"instanceId":    c.cfg.InstanceID,
		"workspaceName": workspaceName,
		"capabilities":  caps,
	})
}

func (c *Core) handleToolCall(ctx *gin.Context) {
	tool := ctx.Param("tool")

	var params map[string]any
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&params); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	if c.cfg.Local == nil {
		ctx.JSON(http.StatusOK, gin.H{"success": false, "error": "no local tool executor configured"})
		return
	}

	result, err := c.cfg.Local.ExecuteTool(ctx.Request.Context(), tool, params)
	if err != nil {
		ctx.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (c *Core) handleContext(ctx *gin.Context) {
	var info coordination.WorkspaceInfo
	if c.cfg.Adapter != nil {
		if i, err := c.cfg.Adapter.CurrentWorkspaceInfo(); err == nil {
			info = i
		}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"workspace":    info,
		"activeEditor": nil,
		"openFiles":    []string{},
	})
}

func (c *Core) handleElectionCandidate(ctx *gin.Context) {
	var inputs coordination.ScoreInputs
	if c.cfg.Adapter != nil {
		if in, err := c.cfg.Adapter.WorkspaceScoreInputs(); err == nil {
			inputs = in
		}
	}

	var caps []string
	if c.cfg.Local != nil {
		caps = c.cfg.Local.GetAvailableTools()
	}

	ctx.JSON(http.StatusOK, coordination.ElectionCandidate{
		InstanceID:     c.cfg.InstanceID,
		WorkspaceScore: coordination.WorkspaceScore(inputs),
		Uptime:         c.uptimeMillis(),
		ResourceUsage:  resourceUsage(),
		Capabilities:   caps,
		WorkerInfo: coordination.WorkerRecord{
			InstanceID:   c.cfg.InstanceID,
			Port:         c.Port(),
			Capabilities: caps,
		},
	})
}

func (c *Core) handleElectionMessage(ctx *gin.Context) {
	var msg coordination.ElectionMessage
	if err := ctx.ShouldBindJSON(&msg); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if msg.Type == coordination.ElectionMessageMasterElected {
		if data, ok := msg.Data.(map[string]any); ok {
			if newMaster, ok := data["newMasterId"].(string); ok && c.cfg.OnMasterElected != nil {
				c.cfg.OnMasterElected(newMaster)
			}
		}
	}

	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func (c *Core) handleShutdownNotice(ctx *gin.Context) {
	if c.cfg.OnMasterShutdown != nil {
		c.cfg.OnMasterShutdown()
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}
