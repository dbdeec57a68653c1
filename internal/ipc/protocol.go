package ipc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
	"github.com/1broseidon/deskpaper/internal/policy"
	"github.com/1broseidon/deskpaper/internal/renderer"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandReload          CommandType = "RELOAD"
	CommandGetStatus       CommandType = "GET_STATUS"
	CommandListDisplays    CommandType = "LIST_DISPLAYS"
	CommandListWallpapers  CommandType = "LIST_WALLPAPERS"
	CommandSetWallpaper    CommandType = "SET_WALLPAPER"
	CommandRemoveWallpaper CommandType = "REMOVE_WALLPAPER"
	CommandPauseAll        CommandType = "PAUSE_ALL"
	CommandResumeAll       CommandType = "RESUME_ALL"
	CommandSetOverride     CommandType = "SET_OVERRIDE"
	CommandSetLayout       CommandType = "SET_LAYOUT"
	CommandShutdown        CommandType = "SHUTDOWN"
	// CommandEvents keeps the connection open and streams one event per line
	// after the OK response.
	CommandEvents CommandType = "EVENTS"
)

// Error codes let clients recover the daemon's sentinel errors.
const (
	CodeInvalidDisplay  = "invalid_display"
	CodeUnsupportedType = "unsupported_type"
	CodeShuttingDown    = "shutting_down"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client
type Response struct {
	Status string          `json:"status"` // "OK" or "ERROR"
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	DaemonRunning bool            `json:"daemon_running"`
	PID           int             `json:"pid"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Displays      int             `json:"displays"`
	Wallpapers    int             `json:"wallpapers"`
	Triggers      policy.Triggers `json:"triggers"`
}

// DisplaysData represents the data returned by LIST_DISPLAYS
type DisplaysData struct {
	Displays []display.Display `json:"displays"`
}

// WallpapersData represents the data returned by LIST_WALLPAPERS
type WallpapersData struct {
	Wallpapers []orchestrator.Instance `json:"wallpapers"`
}

type SetWallpaperPayload struct {
	DisplayID  display.ID          `json:"display_id"`
	Type       renderer.Type       `json:"type"`
	Source     string              `json:"source"`
	Layout     renderer.LayoutMode `json:"layout,omitempty"`
	MouseInput bool                `json:"mouse_input,omitempty"`
}

type SetWallpaperData struct {
	InstanceID orchestrator.InstanceID `json:"instance_id"`
}

type DisplayPayload struct {
	DisplayID display.ID `json:"display_id"`
}

type SetOverridePayload struct {
	DisplayID  display.ID `json:"display_id"`
	Pause      bool       `json:"pause"`
	MouseInput bool       `json:"mouse_input"`
}

type SetLayoutPayload struct {
	DisplayID display.ID          `json:"display_id"`
	Layout    renderer.LayoutMode `json:"layout"`
}

// NewOKResponse creates a successful response with optional data
func NewOKResponse(data interface{}) (*Response, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		dataBytes = bytes
	}

	return &Response{
		Status: "OK",
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(errMsg string) *Response {
	return &Response{
		Status: "ERROR",
		Error:  errMsg,
	}
}

// newErrorResponseFor creates an error response carrying the code of a
// known sentinel error.
func newErrorResponseFor(err error) *Response {
	resp := NewErrorResponse(err.Error())
	switch {
	case errors.Is(err, orchestrator.ErrInvalidDisplay):
		resp.Code = CodeInvalidDisplay
	case errors.Is(err, orchestrator.ErrUnsupportedType):
		resp.Code = CodeUnsupportedType
	case errors.Is(err, orchestrator.ErrShuttingDown):
		resp.Code = CodeShuttingDown
	}
	return resp
}

// RemoteError is an error reported by the daemon.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return "daemon error: " + e.Message
}

// Is matches the sentinel error named by the code.
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case CodeInvalidDisplay:
		return target == orchestrator.ErrInvalidDisplay
	case CodeUnsupportedType:
		return target == orchestrator.ErrUnsupportedType
	case CodeShuttingDown:
		return target == orchestrator.ErrShuttingDown
	}
	return false
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
