package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tachyon-beep/elspeth/internal/config"
)

// cmdServe exposes a thin HTTP surface over a running engine's Landscape:
// /health, /explain/:run_id/:row_id, /runs/:run_id, and, when the
// websocket telemetry exporter is configured, /ws for live-tail dashboard
// connections. Grounded on cmd/tarsy/main.go's gin.Default()/router.Run
// shape for the REST routes and pkg/events.ConnectionManager.HandleConnection
// for the upgrade/read-loop shape.
func cmdServe(ctx context.Context, cfg *config.RuntimeConfig, args []string) int {
	fs := flag.NewFlagSet("elspeth serve", flag.ContinueOnError)
	httpPort := fs.String("port", getEnv("HTTP_PORT", "8080"), "HTTP port to listen on")
	ginMode := fs.String("gin-mode", getEnv("GIN_MODE", "release"), "gin.SetMode value")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	gin.SetMode(*ginMode)

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		log.Printf("elspeth: %v", err)
		return exitFailure
	}
	defer rt.close(ctx)
	rt.startTelemetry(ctx)

	router := gin.Default()
	router.GET("/health", healthHandler(rt))
	router.GET("/runs/:run_id", runStatusHandler(rt))
	router.GET("/explain/:run_id/:row_id", explainHandler(rt))
	if rt.wsExp != nil {
		router.GET("/ws", wsHandler(rt))
	}

	log.Printf("elspeth: HTTP server listening on :%s", *httpPort)
	if err := router.Run(":" + *httpPort); err != nil {
		log.Printf("elspeth: server exited: %v", err)
		return exitFailure
	}
	return exitSuccess
}

func healthHandler(rt *runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := rt.recorder.Pool().Ping(reqCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}

		stat := rt.recorder.Pool().Stat()
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"database": gin.H{
				"acquired_conns": stat.AcquiredConns(),
				"idle_conns":     stat.IdleConns(),
				"total_conns":    stat.TotalConns(),
			},
			"telemetry_enabled": rt.telemetry != nil,
		})
	}
}

func runStatusHandler(rt *runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("run_id")
		status, err := rt.recorder.RunStatus(c.Request.Context(), runID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		unprocessed, err := rt.recorder.UnprocessedRows(c.Request.Context(), runID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"run_id":                runID,
			"status":                status,
			"unprocessed_row_count": len(unprocessed),
		})
	}
}

func explainHandler(rt *runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		lineage, err := rt.recorder.ExplainRow(c.Request.Context(), c.Param("run_id"), c.Param("row_id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, lineage)
	}
}

func wsHandler(rt *runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		connID := uuid.New().String()
		rt.wsExp.Register(connID, conn)
		defer rt.wsExp.Unregister(connID)

		ctx := c.Request.Context()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}
}
