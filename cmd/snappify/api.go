package main

import (
	"github.com/spf13/cobra"

	"github.com/Nadiam75/snappify/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Snappify server via HTTP.

These commands require a running server (snappify serve).
Use --server to specify a custom server URL.

Examples:
  snappify api health                          # Check server health
  snappify api models                          # Show engine status
  snappify api ocr receipt.png -e easyocr      # Recognize one image
  snappify api ocr batch a.png b.png           # Recognize several images
  snappify api results list                    # List saved results
  snappify api metrics summary                 # Per-engine latency and failures`,
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Saved result commands",
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Engine run metrics commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8000", "Server URL",
	)

	apiCmd.AddCommand((&endpoints.RootEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ModelsEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))

	// batch inherits --engines from ocr
	ocrCmd := (&endpoints.OCREndpoint{}).Command(getServerURL)
	ocrCmd.AddCommand((&endpoints.OCRBatchEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand(ocrCmd)

	for _, ep := range endpoints.ResultCommands() {
		resultsCmd.AddCommand(ep.Command(getServerURL))
	}

	for _, ep := range endpoints.MetricsCommands() {
		metricsCmd.AddCommand(ep.Command(getServerURL))
	}

	apiCmd.AddCommand(resultsCmd)
	apiCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(apiCmd)
}
