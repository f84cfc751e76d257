package syncserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Route is the information for every URI.
type Route struct {
	// Name is the name of this Route.
	Name string
	// Method is the string for the HTTP method. ex) GET, POST etc..
	Method string
	// Pattern is the pattern of the URI.
	Pattern string
	// HandlerFunc is the handler function of this route.
	HandlerFunc gin.HandlerFunc
}

// ApiHandleFunctions bundles the API groups served by the router.
type ApiHandleFunctions struct {
	SyncAPI   SyncAPI
	EntityAPI EntityAPI
}

// NewRouter returns a new router.
func NewRouter(handleFunctions ApiHandleFunctions) *gin.Engine {
	return NewRouterWithGinEngine(gin.Default(), handleFunctions)
}

// NewRouterWithGinEngine adds the routes to an existing engine.
func NewRouterWithGinEngine(router *gin.Engine, handleFunctions ApiHandleFunctions) *gin.Engine {
	for _, route := range getRoutes(handleFunctions) {
		if route.HandlerFunc == nil {
			route.HandlerFunc = DefaultHandleFunc
		}
		router.Handle(route.Method, route.Pattern, route.HandlerFunc)
	}
	return router
}

// DefaultHandleFunc answers routes that have no handler wired.
func DefaultHandleFunc(c *gin.Context) {
	c.String(http.StatusNotImplemented, "501 not implemented")
}

func getRoutes(handleFunctions ApiHandleFunctions) []Route {
	return []Route{
		{"RunSync", http.MethodPost, "/api/v1/sync/:entity", handleFunctions.SyncAPI.RunSync},
		{"RunSchedule", http.MethodPost, "/api/v1/sync/scheduled/:schedule", handleFunctions.SyncAPI.RunSchedule},
		{"ListEntities", http.MethodGet, "/api/v1/entities", handleFunctions.EntityAPI.ListEntities},
		{"ListRecords", http.MethodGet, "/api/v1/entities/:entity/records", handleFunctions.EntityAPI.ListRecords},
		{"ListCycles", http.MethodGet, "/api/v1/entities/:entity/cycles", handleFunctions.EntityAPI.ListCycles},
		{"Health", http.MethodGet, "/healthz", Health},
	}
}

// Health reports process liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
