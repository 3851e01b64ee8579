// ABOUTME: Self-describing service manifest listing the gateway's endpoints
// ABOUTME: Served at /manifest so clients can discover inputs and outputs

package gateway

import "net/http"

// Version is reported in the manifest. Overridden at build time via -ldflags.
var Version = "dev"

// EndpointManifest documents one route.
type EndpointManifest struct {
	URI           string   `json:"uri"`
	Methods       []string `json:"methods"`
	Documentation string   `json:"documentation"`
	Input         any      `json:"input_body,omitempty"`
	Output        any      `json:"output,omitempty"`
	Identity      bool     `json:"requires_identity,omitempty"`
}

// Manifest describes the service.
type Manifest struct {
	Name      string             `json:"name"`
	ShortName string             `json:"short_name"`
	Version   string             `json:"version"`
	Endpoints []EndpointManifest `json:"endpoints"`
}

func (g *Gateway) manifest() Manifest {
	endpoints := []EndpointManifest{
		{URI: "/health", Methods: []string{"GET"}, Documentation: "Returns the health status of the service", Output: map[string]string{"status": "<string>"}},
		{URI: "/health/ready", Methods: []string{"GET"}, Documentation: "Reports whether the agent runtime is reachable"},
		{URI: "/", Methods: []string{"GET"}, Documentation: "Returns the index page", Output: "html"},
		{URI: "/agents", Methods: []string{"GET"}, Documentation: "Returns the list of agents", Output: "json"},
		{URI: "/agents/stop", Methods: []string{"POST"}, Documentation: "Stops an agent", Input: map[string]string{"agent_id": "<string>"}, Output: "json"},
		{URI: "/agents/start", Methods: []string{"POST"}, Documentation: "Starts an agent with a character; requires an active subscription",
			Input: map[string]string{"agent_id": "<string>", "character": "<json>"}, Output: "json", Identity: true},
		{URI: "/agents/example", Methods: []string{"GET"}, Documentation: "Returns an example agent character", Output: "json"},
		{URI: "/subscribe", Methods: []string{"POST"}, Documentation: "Extends the caller's subscription",
			Input: map[string]string{"months": "<int, default 1>"}, Output: map[string]string{"status": "updated", "end": "<unix seconds>"}, Identity: true},
		{URI: "/subscription", Methods: []string{"GET"}, Documentation: "Returns the caller's subscription status",
			Output: map[string]string{"status": "<ok|error>"}, Identity: true},
		{URI: "/subscription/history", Methods: []string{"GET"}, Documentation: "Returns the caller's past extensions", Output: "json", Identity: true},
		{URI: "/reconcile/sweeps", Methods: []string{"GET"}, Documentation: "Returns recent reconciliation sweeps", Output: "json"},
	}
	if g.config.Metrics.Enabled {
		endpoints = append(endpoints, EndpointManifest{
			URI: g.config.Metrics.Path, Methods: []string{"GET"}, Documentation: "Prometheus metrics", Output: "text",
		})
	}

	return Manifest{
		Name:      "agentgate",
		ShortName: "agentgate",
		Version:   Version,
		Endpoints: endpoints,
	}
}

// handleManifest serves the service manifest.
func (g *Gateway) handleManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.manifest())
}
