package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// Route describes one registered HTTP route.
type Route struct {
	Method string
	Path   string
	// Gated routes answer 503 until the engines are initialized.
	Gated bool
}

// Pattern returns the ServeMux pattern for the route.
func (r Route) Pattern() string {
	return r.Method + " " + r.Path
}

// RegisterRoutes registers every endpoint with mux. Endpoints that need
// initialized engines are wrapped with gate.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, gate func(http.HandlerFunc) http.HandlerFunc) []Route {
	routes := make([]Route, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		route := Route{Method: method, Path: path, Gated: ep.RequiresInit()}
		if route.Gated {
			handler = gate(handler)
		}
		mux.HandleFunc(route.Pattern(), handler)
		routes = append(routes, route)
	}
	return routes
}

// BuildCommands returns a cobra.Command tree for all registered endpoints.
// Commands are organized by their URL path structure.
// getServerURL is called at runtime to get the server URL.
func (r *Registry) BuildCommands(getServerURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running Snappify server via HTTP.

These commands require a running server (snappify serve).
Use --server to specify a custom server URL.

Examples:
  snappify api health                     # Check server health
  snappify api models                     # Show engine status
  snappify api ocr scan.png               # Run every ready engine
  snappify api ocr scan.png -e easyocr    # Run one engine
  snappify api ocr batch a.png b.jpg      # Batch recognition`,
	}

	for _, ep := range r.endpoints {
		apiCmd.AddCommand(ep.Command(getServerURL))
	}

	return apiCmd
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
