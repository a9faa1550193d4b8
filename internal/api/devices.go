package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-control4/internal/bridges/control4"
)

// commandTimeout bounds a command issued through the API.
const commandTimeout = 10 * time.Second

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// commandResponse reports an executed command and the device state after it.
type commandResponse struct {
	CommandID string                `json:"command_id"`
	DeviceID  string                `json:"device_id"`
	Status    control4.AckStatus    `json:"status"`
	Device    control4.StateMessage `json:"device"`
}

// handleListDevices returns every bridged device with its normalized
// state. ?type= filters by device type.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	filter := control4.DeviceType(r.URL.Query().Get("type"))
	if filter != "" && !filter.Valid() {
		writeBadRequest(w, "unknown device type")
		return
	}

	devices := s.bridge.Devices()
	out := make([]control4.StateMessage, 0, len(devices))
	for _, dev := range devices {
		if filter != "" && dev.Type() != filter {
			continue
		}
		out = append(out, control4.NewStateMessage(dev))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice returns one device with its normalized state.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, control4.NewStateMessage(dev))
}

// handleDeviceCommand runs a bridge command synchronously.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	id := dev.Identity().ID
	commandID := uuid.NewString()
	s.logger.Info("API command",
		"command_id", commandID,
		"device_id", id,
		"command", req.Command,
		"subject", subjectFrom(r.Context()))

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err := s.bridge.Execute(ctx, id, req.Command, req.Parameters)
	s.recordCommand(r, commandID, id, req, err)
	if err != nil {
		status, code := commandErrorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, commandResponse{
		CommandID: commandID,
		DeviceID:  strconv.Itoa(id),
		Status:    control4.AckAccepted,
		Device:    control4.NewStateMessage(dev),
	})
}

// handleResync starts a background snapshot refresh.
func (s *Server) handleResync(w http.ResponseWriter, _ *http.Request) {
	started := s.bridge.RequestResync()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"started": started,
	})
}

// lookupDevice resolves {id}, writing 400 or 404 when it cannot.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (control4.Device, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeBadRequest(w, "invalid device ID")
		return nil, false
	}
	dev, ok := s.bridge.Device(id)
	if !ok {
		writeNotFound(w, "device not found")
		return nil, false
	}
	return dev, true
}

// commandErrorStatus maps a bridge command error to an HTTP status and code.
func commandErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, control4.ErrUnknownDevice):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, control4.ErrUnknownCommand),
		errors.Is(err, control4.ErrUnsupportedMode),
		errors.Is(err, control4.ErrInvalidParameters),
		errors.Is(err, control4.ErrInvalidPercentage),
		errors.Is(err, control4.ErrInvalidPreset):
		return http.StatusUnprocessableEntity, ErrCodeValidation
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	default:
		return http.StatusBadGateway, ErrCodeBadGateway
	}
}
