package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
	"github.com/1broseidon/deskpaper/internal/policy"
	"github.com/1broseidon/deskpaper/internal/renderer"
	"github.com/1broseidon/deskpaper/internal/runtimepath"
)

// requestTimeout bounds a single command against the orchestrator.
const requestTimeout = 10 * time.Second

// Orchestrator is the daemon surface the server exposes.
type Orchestrator interface {
	Snapshot() orchestrator.State
	SetWallpaper(ctx context.Context, displayID display.ID, req orchestrator.Request) (orchestrator.InstanceID, error)
	RemoveWallpaper(ctx context.Context, displayID display.ID) error
	PauseAll(ctx context.Context) error
	ResumeAll(ctx context.Context) error
	SetOverride(ctx context.Context, displayID display.ID, ov policy.Override) error
	SetLayout(ctx context.Context, displayID display.ID, layout renderer.LayoutMode) error
	Subscribe() (<-chan orchestrator.Event, func())
}

type ServerOptions struct {
	// SocketPath defaults to runtimepath.SocketPath().
	SocketPath string
	// Reload re-reads the config and applies it.
	Reload func() error
	// Shutdown is called after the SHUTDOWN response has been sent.
	Shutdown func()
	Logger   *slog.Logger
}

// Server handles IPC requests from clients
type Server struct {
	socketPath string
	listener   net.Listener
	orch       Orchestrator
	reload     func() error
	shutdown   func()
	logger     *slog.Logger
	startTime  time.Time

	mu           sync.Mutex
	shuttingDown bool
	conns        map[net.Conn]struct{}
	wg           sync.WaitGroup
}

// NewServer creates a new IPC server
func NewServer(orch Orchestrator, opts ServerOptions) (*Server, error) {
	socketPath := opts.SocketPath
	if socketPath == "" {
		var err error
		socketPath, err = runtimepath.SocketPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve IPC socket path: %w", err)
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	// Remove existing socket if present
	os.Remove(socketPath)

	return &Server{
		socketPath: socketPath,
		orch:       orch,
		reload:     opts.Reload,
		shutdown:   opts.Shutdown,
		logger:     opts.Logger,
		startTime:  time.Now(),
		conns:      make(map[net.Conn]struct{}),
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start begins listening for IPC connections
func (s *Server) Start() error {
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("IPC server listening", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopping := s.shuttingDown
			s.mu.Unlock()
			if stopping {
				return
			}
			s.logger.Warn("IPC accept error", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if s.shuttingDown {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

// handleConnection handles a single IPC connection
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)

	// Read the request (expect JSON on a single line)
	data, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		s.logger.Debug("IPC read error", "error", err)
		return
	}

	req, err := ParseRequest(data)
	if err != nil {
		s.writeResponse(conn, NewErrorResponse(fmt.Sprintf("Invalid request: %v", err)))
		return
	}

	if req.Command == CommandEvents {
		s.streamEvents(conn, reader)
		return
	}

	resp := s.handleCommand(req)
	if !s.writeResponse(conn, resp) {
		return
	}

	if req.Command == CommandShutdown && resp.Status == "OK" && s.shutdown != nil {
		go s.shutdown()
	}
}

func (s *Server) writeResponse(conn net.Conn, resp *Response) bool {
	respData, err := resp.Marshal()
	if err != nil {
		s.logger.Warn("failed to marshal IPC response", "error", err)
		return false
	}
	respData = append(respData, '\n')
	if _, err := conn.Write(respData); err != nil {
		s.logger.Debug("failed to send IPC response", "error", err)
		return false
	}
	return true
}

// streamEvents writes one JSON event per line until the client disconnects
// or the orchestrator stops.
func (s *Server) streamEvents(conn net.Conn, reader *bufio.Reader) {
	events, cancel := s.orch.Subscribe()
	defer cancel()

	resp, _ := NewOKResponse(nil)
	if !s.writeResponse(conn, resp) {
		return
	}

	gone := make(chan struct{})
	go func() {
		io.Copy(io.Discard, reader)
		close(gone)
	}()

	enc := json.NewEncoder(conn)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// handleCommand processes an IPC command and returns a response
func (s *Server) handleCommand(req *Request) *Response {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch req.Command {
	case CommandReload:
		return s.handleReload()
	case CommandGetStatus:
		return s.handleGetStatus()
	case CommandListDisplays:
		return okResponse(DisplaysData{Displays: nonNil(s.orch.Snapshot().Displays)})
	case CommandListWallpapers:
		return okResponse(WallpapersData{Wallpapers: nonNil(s.orch.Snapshot().Instances)})
	case CommandSetWallpaper:
		return s.handleSetWallpaper(ctx, req.Payload)
	case CommandRemoveWallpaper:
		var p DisplayPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return NewErrorResponse(fmt.Sprintf("Invalid remove payload: %v", err))
		}
		return resultResponse(s.orch.RemoveWallpaper(ctx, p.DisplayID))
	case CommandPauseAll:
		return resultResponse(s.orch.PauseAll(ctx))
	case CommandResumeAll:
		return resultResponse(s.orch.ResumeAll(ctx))
	case CommandSetOverride:
		var p SetOverridePayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return NewErrorResponse(fmt.Sprintf("Invalid override payload: %v", err))
		}
		return resultResponse(s.orch.SetOverride(ctx, p.DisplayID, policy.Override{Pause: p.Pause, MouseInput: p.MouseInput}))
	case CommandSetLayout:
		var p SetLayoutPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return NewErrorResponse(fmt.Sprintf("Invalid layout payload: %v", err))
		}
		return resultResponse(s.orch.SetLayout(ctx, p.DisplayID, p.Layout))
	case CommandShutdown:
		if s.shutdown == nil {
			return NewErrorResponse("shutdown is not available")
		}
		s.logger.Info("IPC: received SHUTDOWN command")
		return okResponse(nil)
	default:
		return NewErrorResponse(fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (s *Server) handleReload() *Response {
	s.logger.Info("IPC: received RELOAD command")
	if s.reload == nil {
		return NewErrorResponse("reload is not available")
	}
	if err := s.reload(); err != nil {
		return NewErrorResponse(fmt.Sprintf("Failed to reload config: %v", err))
	}
	return okResponse(nil)
}

func (s *Server) handleGetStatus() *Response {
	snap := s.orch.Snapshot()
	return okResponse(StatusData{
		DaemonRunning: true,
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Displays:      len(snap.Displays),
		Wallpapers:    len(snap.Instances),
		Triggers:      snap.Triggers,
	})
}

func (s *Server) handleSetWallpaper(ctx context.Context, payload json.RawMessage) *Response {
	var p SetWallpaperPayload
	if err := decodePayload(payload, &p); err != nil {
		return NewErrorResponse(fmt.Sprintf("Invalid set payload: %v", err))
	}
	if p.DisplayID == "" {
		return NewErrorResponse("display_id is required")
	}
	if p.Source == "" && p.Type != renderer.Native {
		return NewErrorResponse("source is required")
	}

	id, err := s.orch.SetWallpaper(ctx, p.DisplayID, orchestrator.Request{
		Type:       p.Type,
		Source:     p.Source,
		Layout:     p.Layout,
		MouseInput: p.MouseInput,
	})
	if err != nil {
		return newErrorResponseFor(err)
	}
	return okResponse(SetWallpaperData{InstanceID: id})
}

func decodePayload(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(payload, v)
}

func okResponse(data interface{}) *Response {
	resp, err := NewOKResponse(data)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return resp
}

func resultResponse(err error) *Response {
	if err != nil {
		return newErrorResponseFor(err)
	}
	return okResponse(nil)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Stop closes the listener and every open connection, including event
// streams, and removes the socket.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}
