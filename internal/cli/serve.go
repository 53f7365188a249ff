package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/mistborn/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing detection and patch generation.

Endpoints:
  GET  /health         Health check
  POST /api/detect     Review changed files for vulnerabilities
  POST /api/patch      Run patch generation on files and a report
  POST /api/reconcile  Map a selection back onto files
  GET  /api/ws         WebSocket streaming pipeline progress
  GET  /metrics        Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "127.0.0.1", "address to listen on")
	serveCmd.Flags().IntP("port", "p", 6142, "port to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	port, _ := cmd.Flags().GetInt("port")

	comp, err := loadComponents(logger)
	if err != nil {
		return err
	}

	listen := fmt.Sprintf("%s:%d", addr, port)
	srv := api.New(listen, api.Deps{
		Detector:   comp.detector,
		Pipeline:   comp.pipeline,
		Reconciler: comp.reconciler,
		Log:        logger,
	})
	return srv.ListenAndServe()
}
