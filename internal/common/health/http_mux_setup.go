package health

import (
	"net/http"
)

// Path is where SetupHttpMux serves the health check.
const Path = "/health"

// SetupHttpMux registers checker on mux at Path. Services share the mux with their own api.
func SetupHttpMux(mux *http.ServeMux, checker Checker) {
	mux.Handle(Path, NewHealthCheckHttpHandler(checker))
}
