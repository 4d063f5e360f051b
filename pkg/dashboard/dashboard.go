// Package dashboard serves the human-facing coordination overview: master
// status, the live worker roster, rolling performance metrics, and recent
// tool-call history, with SSE-driven live updates (C11, DOMAIN STACK).
package dashboard

import (
	"html/template"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/mastercore"
)

// Dashboard provides HTTP handlers for the coordination web UI. It only
// ever reads from Core's exported snapshot accessors (Registry().List(),
// Metrics(), History()) — never touches internal containers directly.
type Dashboard struct {
	master    *mastercore.Core
	templates *template.Template
}

// New parses the dashboard templates and binds them to master.
func New(master *mastercore.Core) (*Dashboard, error) {
	tmpl, err := template.ParseGlob("pkg/dashboard/templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Dashboard{master: master, templates: tmpl}, nil
}

// SetupRoutes registers the dashboard's pages, partials, and SSE streams.
func (d *Dashboard) SetupRoutes(router *gin.Engine) {
	router.GET("/", d.overview)
	router.GET("/dashboard", d.overview)

	router.GET("/api/dashboard/status", d.statusPartial)
	router.GET("/api/dashboard/workers", d.workersPartial)
	router.GET("/api/dashboard/calls", d.callsPartial)

	router.GET("/api/events/status", d.statusSSE)
}

func (d *Dashboard) overview(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	d.templates.ExecuteTemplate(c.Writer, "overview.html", d.statusData())
}

func (d *Dashboard) statusPartial(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	d.templates.ExecuteTemplate(c.Writer, "status.html", d.statusData())
}

func (d *Dashboard) workersPartial(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	d.templates.ExecuteTemplate(c.Writer, "workers.html", map[string]any{
		"Workers": d.master.Registry().List(),
	})
}

func (d *Dashboard) callsPartial(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	history := d.master.History()
	// Most recent first.
	reversed := make([]coordination.ToolCallLogEntry, len(history))
	for i, e := range history {
		reversed[len(history)-1-i] = e
	}
	d.templates.ExecuteTemplate(c.Writer, "calls.html", map[string]any{
		"Calls": reversed,
	})
}

func (d *Dashboard) statusData() map[string]any {
	metrics := d.master.Metrics()
	workers := d.master.Registry().List()

	return map[string]any{
		"InstanceID":  d.master.InstanceID(),
		"Uptime":      d.master.Uptime().Round(time.Second).String(),
		"WorkerCount": len(workers),
		"Workers":     workers,
		"Metrics":     metrics,
		"Timestamp":   time.Now().Format("15:04:05"),
	}
}
