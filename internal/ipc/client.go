package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
	"github.com/1broseidon/deskpaper/internal/renderer"
	"github.com/1broseidon/deskpaper/internal/runtimepath"
)

// Client handles IPC communication with the daemon
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client
func NewClient() *Client {
	socketPath, err := runtimepath.SocketPath()
	if err != nil {
		// Keep constructor non-failing; sendRequest surfaces connection errors.
		socketPath = ""
	}
	return NewClientWithPath(socketPath)
}

// NewClientWithPath creates a client for an explicit socket path.
func NewClientWithPath(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    15 * time.Second,
	}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w (is the daemon running?)", err)
	}
	return conn, nil
}

func writeRequest(conn net.Conn, command CommandType, payload interface{}) error {
	req := Request{Command: command}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		req.Payload = raw
	}

	reqData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	reqData = append(reqData, '\n')
	if _, err := conn.Write(reqData); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

func readResponse(reader *bufio.Reader) (*Response, error) {
	respData, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.Status == "ERROR" {
		return nil, &RemoteError{Code: resp.Code, Message: resp.Error}
	}
	return &resp, nil
}

// sendRequest sends a request and waits for a response
func (c *Client) sendRequest(command CommandType, payload interface{}) (*Response, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if err := writeRequest(conn, command, payload); err != nil {
		return nil, err
	}
	return readResponse(bufio.NewReader(conn))
}

// call sends a request and decodes the response data into out, if non-nil.
func (c *Client) call(command CommandType, payload, out interface{}) error {
	resp, err := c.sendRequest(command, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", command, err)
	}
	return nil
}

// Reload sends a RELOAD command to the daemon
func (c *Client) Reload() error {
	return c.call(CommandReload, nil, nil)
}

// GetStatus retrieves daemon status
func (c *Client) GetStatus() (*StatusData, error) {
	var status StatusData
	if err := c.call(CommandGetStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Ping checks if the daemon is running
func (c *Client) Ping() bool {
	_, err := c.GetStatus()
	return err == nil
}

func (c *Client) ListDisplays() ([]display.Display, error) {
	var data DisplaysData
	if err := c.call(CommandListDisplays, nil, &data); err != nil {
		return nil, err
	}
	return data.Displays, nil
}

func (c *Client) ListWallpapers() ([]orchestrator.Instance, error) {
	var data WallpapersData
	if err := c.call(CommandListWallpapers, nil, &data); err != nil {
		return nil, err
	}
	return data.Wallpapers, nil
}

// SetWallpaper assigns a wallpaper to a display and returns the new
// instance ID. The launch itself completes in the background.
func (c *Client) SetWallpaper(p SetWallpaperPayload) (orchestrator.InstanceID, error) {
	var data SetWallpaperData
	if err := c.call(CommandSetWallpaper, p, &data); err != nil {
		return "", err
	}
	return data.InstanceID, nil
}

func (c *Client) RemoveWallpaper(id display.ID) error {
	return c.call(CommandRemoveWallpaper, DisplayPayload{DisplayID: id}, nil)
}

func (c *Client) PauseAll() error {
	return c.call(CommandPauseAll, nil, nil)
}

func (c *Client) ResumeAll() error {
	return c.call(CommandResumeAll, nil, nil)
}

func (c *Client) SetOverride(p SetOverridePayload) error {
	return c.call(CommandSetOverride, p, nil)
}

func (c *Client) SetLayout(id display.ID, layout renderer.LayoutMode) error {
	return c.call(CommandSetLayout, SetLayoutPayload{DisplayID: id, Layout: layout}, nil)
}

// Shutdown asks the daemon to stop every wallpaper and exit.
func (c *Client) Shutdown() error {
	return c.call(CommandShutdown, nil, nil)
}

// Events streams daemon events to fn until ctx is cancelled, fn returns an
// error, or the daemon closes the stream.
func (c *Client) Events(ctx context.Context, fn func(orchestrator.Event) error) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetDeadline(time.Now().Add(c.timeout))
	if err := writeRequest(conn, CommandEvents, nil); err != nil {
		return err
	}
	reader := bufio.NewReader(conn)
	if _, err := readResponse(reader); err != nil {
		return err
	}
	conn.SetDeadline(time.Time{})

	dec := json.NewDecoder(reader)
	for {
		var ev orchestrator.Event
		if err := dec.Decode(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
