package renderer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/1broseidon/deskpaper/internal/codec"
	"github.com/1broseidon/deskpaper/internal/platform"
)

// MessageType identifies a renderer IPC message.
type MessageType string

// Controller to renderer.
const (
	MsgPlay      MessageType = "play"
	MsgPause     MessageType = "pause"
	MsgResize    MessageType = "resize"
	MsgLayout    MessageType = "layout"
	MsgTerminate MessageType = "terminate"
)

// Renderer to controller.
const (
	MsgReady MessageType = "ready"
	MsgLog   MessageType = "log"
)

// Message is one CBOR item on the renderer socket.
type Message struct {
	Type   MessageType    `cbor:"type"`
	Bounds *platform.Rect `cbor:"bounds,omitempty"`
	Layout LayoutMode     `cbor:"layout,omitempty"`
	Window uint32         `cbor:"window,omitempty"`
	Text   string         `cbor:"text,omitempty"`
}

// channel is the controller side of one renderer's socket. The renderer
// connects once; later connection attempts are refused.
type channel struct {
	path     string
	listener net.Listener
	logger   *slog.Logger

	ready chan platform.WindowID

	mu   sync.Mutex
	conn net.Conn
	enc  *codec.Encoder
}

func listenChannel(path string, logger *slog.Logger) (*channel, error) {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on renderer socket %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to set renderer socket permissions: %w", err)
	}

	ch := &channel{
		path:     path,
		listener: ln,
		logger:   logger,
		ready:    make(chan platform.WindowID, 1),
	}
	go ch.accept()
	return ch, nil
}

func (ch *channel) accept() {
	conn, err := ch.listener.Accept()
	if err != nil {
		return
	}
	ch.listener.Close()

	ch.mu.Lock()
	ch.conn = conn
	ch.enc = codec.NewEncoder(conn)
	ch.mu.Unlock()

	ch.readLoop(conn)
}

func (ch *channel) readLoop(conn net.Conn) {
	dec := codec.NewDecoder(conn)
	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				ch.logger.Debug("renderer channel closed", "error", err)
			}
			return
		}

		switch msg.Type {
		case MsgReady:
			select {
			case ch.ready <- platform.WindowID(msg.Window):
			default:
			}
		case MsgLog:
			ch.logger.Info("renderer log", "text", msg.Text)
		default:
			ch.logger.Debug("ignoring renderer message", "type", msg.Type)
		}
	}
}

// send writes one message. It fails when the renderer has not connected.
func (ch *channel) send(msg Message) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.enc == nil {
		return fmt.Errorf("renderer not connected")
	}
	return ch.enc.Encode(msg)
}

func (ch *channel) close() {
	ch.listener.Close()
	ch.mu.Lock()
	if ch.conn != nil {
		ch.conn.Close()
	}
	ch.mu.Unlock()
	os.Remove(ch.path)
}
