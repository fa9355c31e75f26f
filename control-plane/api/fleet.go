package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ngojclee/proxy-farm-system/agent/fleet"
	"github.com/ngojclee/proxy-farm-system/shared/models"
)

// FleetAPI serves the DCOM dashboard endpoints
type FleetAPI struct {
	fleet         FleetService
	defaultWindow time.Duration
	logger        *slog.Logger
}

// FleetService defines what the API needs from the fleet
type FleetService interface {
	// Devices
	Devices() fleet.FleetView
	Refresh(ctx context.Context) (int, error)

	// Bindings
	Assign(user, deviceID string) error
	Unassign(user string) error
	Assignments() models.AssignmentIndex
	AutoAssign(users []string, strategy string) (*models.AllocationResult, error)

	// Rotations
	Rotate(ctx context.Context, deviceID, newAddress string) (*fleet.RotationResult, error)
	IPChanges(deviceID string, window time.Duration) []models.IPChange

	// Routing
	Route(user string) models.RoutingInfo
	ResolveAddress(user string) (string, error)
}

// NewFleetAPI creates the API. A non-positive defaultWindow selects 24h.
func NewFleetAPI(service FleetService, defaultWindow time.Duration, logger *slog.Logger) *FleetAPI {
	if defaultWindow <= 0 {
		defaultWindow = 24 * time.Hour
	}
	return &FleetAPI{
		fleet:         service,
		defaultWindow: defaultWindow,
		logger:        logger,
	}
}

// RegisterRoutes registers the fleet routes
func (api *FleetAPI) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/dcom/devices", api.handleListDevices).Methods("GET")
	router.HandleFunc("/api/dcom/refresh", api.handleRefresh).Methods("POST")

	router.HandleFunc("/api/dcom/assign", api.handleAssign).Methods("POST")
	router.HandleFunc("/api/dcom/unassign", api.handleUnassign).Methods("POST")
	router.HandleFunc("/api/dcom/auto-assign", api.handleAutoAssign).Methods("POST")
	router.HandleFunc("/api/dcom/assignments", api.handleListAssignments).Methods("GET")

	router.HandleFunc("/api/dcom/rotate-ip/{dcomId}", api.handleRotate).Methods("POST")
	router.HandleFunc("/api/dcom/ip-changes", api.handleIPChanges).Methods("GET")

	router.HandleFunc("/api/dcom/route/{username}", api.handleRoute).Methods("GET")
	router.HandleFunc("/api/dcom/resolve/{username}", api.handleResolve).Methods("POST")

	router.HandleFunc("/healthz", api.handleHealth).Methods("GET")

	api.logger.Info("Fleet API routes registered")
}

// =============================================================================
// Devices
// =============================================================================

func (api *FleetAPI) handleListDevices(w http.ResponseWriter, r *http.Request) {
	view := api.fleet.Devices()

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"devices":        view.Devices,
		"total_devices":  view.TotalDevices,
		"active_devices": view.ActiveDevices,
		"refreshed_at":   view.RefreshedAt,
	})
}

func (api *FleetAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	count, err := api.fleet.Refresh(r.Context())
	if err != nil {
		api.writeError(w, http.StatusBadGateway, "Device discovery failed", err)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"devices": count,
	})
}

// =============================================================================
// Bindings
// =============================================================================

func (api *FleetAPI) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		DeviceID string `json:"dcom_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Username == "" || req.DeviceID == "" {
		api.writeError(w, http.StatusBadRequest, "Username and DCOM ID required", nil)
		return
	}

	if err := api.fleet.Assign(req.Username, req.DeviceID); err != nil {
		api.writeFleetError(w, "Failed to assign user", err)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  fmt.Sprintf("User %s assigned to %s", req.Username, req.DeviceID),
		"username": req.Username,
		"dcom_id":  req.DeviceID,
	})
}

func (api *FleetAPI) handleUnassign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Username == "" {
		api.writeError(w, http.StatusBadRequest, "Username required", nil)
		return
	}

	if err := api.fleet.Unassign(req.Username); err != nil {
		api.writeFleetError(w, "Failed to unassign user", err)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  fmt.Sprintf("User %s unassigned", req.Username),
		"username": req.Username,
	})
}

func (api *FleetAPI) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Usernames []string `json:"usernames"`
		Mode      string   `json:"mode"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Usernames) == 0 {
		api.writeError(w, http.StatusBadRequest, "User list required", nil)
		return
	}
	if req.Mode == "" {
		req.Mode = string(fleet.StrategyRoundRobin)
	}

	result, err := api.fleet.AutoAssign(req.Usernames, req.Mode)
	if err != nil {
		api.writeFleetError(w, "Auto-assignment failed", err)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"mode":        result.Strategy,
		"assignments": result.Assignments,
		"failed":      result.Failed,
		"assigned":    result.Assigned,
		"message":     fmt.Sprintf("Assigned %d of %d users", result.Assigned, len(req.Usernames)),
	})
}

func (api *FleetAPI) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	index := api.fleet.Assignments()

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"user_assignments": index.UserAssignments,
		"dcom_assignments": index.DeviceAssignments,
		"last_updated":     index.LastUpdated,
		"devices":          api.fleet.Devices().Devices,
	})
}

// =============================================================================
// Rotations
// =============================================================================

func (api *FleetAPI) handleRotate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deviceID := vars["dcomId"]

	var req struct {
		NewAddress string `json:"new_ip"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.NewAddress == "" {
		api.writeError(w, http.StatusBadRequest, "new_ip required", nil)
		return
	}

	result, err := api.fleet.Rotate(r.Context(), deviceID, req.NewAddress)
	if err != nil {
		api.writeFleetError(w, "Failed to record IP rotation", err)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"message":        fmt.Sprintf("IP rotated successfully for %s", result.Notification.DeviceName),
		"old_ip":         result.Record.OldAddress,
		"new_ip":         result.Record.NewAddress,
		"device_id":      deviceID,
		"affected_users": result.Record.AffectedUsers,
		"record":         result.Record,
		"notification":   result.Notification,
	})
}

func (api *FleetAPI) handleIPChanges(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("dcom_id")

	window := api.defaultWindow
	if hours := r.URL.Query().Get("hours"); hours != "" {
		n, err := strconv.ParseFloat(hours, 64)
		if err != nil || math.IsNaN(n) || n <= 0 {
			api.writeError(w, http.StatusBadRequest, "hours must be a positive number", nil)
			return
		}
		window = hoursToWindow(n)
	}

	changes := api.fleet.IPChanges(deviceID, window)

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"changes":       changes,
		"total_changes": len(changes),
	})
}

// hoursToWindow converts hours to a window, saturating instead of
// overflowing for values beyond the range of time.Duration.
func hoursToWindow(hours float64) time.Duration {
	window := hours * float64(time.Hour)
	if window >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(window)
}

// =============================================================================
// Routing
// =============================================================================

func (api *FleetAPI) handleRoute(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"route":   api.fleet.Route(username),
	})
}

func (api *FleetAPI) handleResolve(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	address, err := api.fleet.ResolveAddress(username)
	if err != nil {
		api.writeFleetError(w, "Failed to resolve address", err)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"username":  username,
		"public_ip": address,
	})
}

func (api *FleetAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	view := api.fleet.Devices()

	status := "healthy"
	if view.ActiveDevices == 0 {
		status = "degraded"
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"total_devices":  view.TotalDevices,
		"active_devices": view.ActiveDevices,
	})
}

// =============================================================================
// Helper Methods
// =============================================================================

// writeFleetError maps fleet errors to status codes
func (api *FleetAPI) writeFleetError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, fleet.ErrUnknownDevice):
		api.writeError(w, http.StatusNotFound, "DCOM device not found", err)
	case errors.Is(err, fleet.ErrNotAssigned),
		errors.Is(err, fleet.ErrUnknownStrategy),
		errors.Is(err, fleet.ErrInvalidArgument):
		api.writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, fleet.ErrNoActiveDevices),
		errors.Is(err, fleet.ErrDeviceInactive):
		api.writeError(w, http.StatusConflict, message, err)
	default:
		api.writeError(w, http.StatusInternalServerError, message, err)
	}
}

func (api *FleetAPI) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		api.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (api *FleetAPI) writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"message": message,
		"success": false,
	}

	if err != nil {
		response["details"] = err.Error()
		if statusCode >= http.StatusInternalServerError {
			api.logger.Error("API error", "message", message, "error", err)
		} else {
			api.logger.Warn("API error", "message", message, "error", err)
		}
	} else {
		api.logger.Warn("API error", "message", message)
	}

	api.writeJSON(w, statusCode, response)
}
