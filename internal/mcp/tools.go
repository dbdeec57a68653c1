package mcp

import (
	"context"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/renderer"
)

func (s *Server) handleListDisplays(_ context.Context, _ *mcpsdk.CallToolRequest, _ any) (*mcpsdk.CallToolResult, ListDisplaysOutput, error) {
	displays, err := s.daemon.ListDisplays()
	if err != nil {
		return nil, ListDisplaysOutput{}, err
	}

	out := ListDisplaysOutput{Displays: make([]DisplayInfo, 0, len(displays))}
	for _, d := range displays {
		out.Displays = append(out.Displays, DisplayInfo{
			ID:        string(d.ID),
			Name:      d.Name,
			X:         d.Bounds.X,
			Y:         d.Bounds.Y,
			Width:     d.Bounds.Width,
			Height:    d.Bounds.Height,
			Primary:   d.Primary,
			Connected: d.Connected,
		})
	}
	return nil, out, nil
}

func (s *Server) handleListWallpapers(_ context.Context, _ *mcpsdk.CallToolRequest, _ any) (*mcpsdk.CallToolResult, ListWallpapersOutput, error) {
	instances, err := s.daemon.ListWallpapers()
	if err != nil {
		return nil, ListWallpapersOutput{}, err
	}

	out := ListWallpapersOutput{Wallpapers: make([]WallpaperInfo, 0, len(instances))}
	for _, inst := range instances {
		out.Wallpapers = append(out.Wallpapers, WallpaperInfo{
			InstanceID: string(inst.ID),
			DisplayID:  string(inst.DisplayID),
			Type:       string(inst.Type),
			Source:     inst.Source,
			Layout:     string(inst.Layout),
			State:      inst.State.String(),
			Desired:    inst.Desired.String(),
			Attached:   inst.Attached,
			PID:        inst.PID,
			Restarts:   inst.Restarts,
			LastError:  inst.LastError,
		})
	}
	return nil, out, nil
}

func (s *Server) handleSetWallpaper(_ context.Context, _ *mcpsdk.CallToolRequest, args SetWallpaperInput) (*mcpsdk.CallToolResult, SetWallpaperOutput, error) {
	id := strings.TrimSpace(args.DisplayID)
	if id == "" {
		return nil, SetWallpaperOutput{}, fmt.Errorf("display_id is required")
	}
	layout, err := renderer.ParseLayout(args.Layout)
	if err != nil {
		return nil, SetWallpaperOutput{}, err
	}

	instanceID, err := s.daemon.SetWallpaper(ipc.SetWallpaperPayload{
		DisplayID:  display.ID(id),
		Type:       renderer.Type(strings.ToLower(strings.TrimSpace(args.Type))),
		Source:     args.Source,
		Layout:     layout,
		MouseInput: args.MouseInput,
	})
	if err != nil {
		s.logger.Debug("set_wallpaper failed", "display", id, "error", err)
		return nil, SetWallpaperOutput{}, err
	}
	s.logger.Info("set_wallpaper", "display", id, "instance", instanceID, "type", args.Type)
	return nil, SetWallpaperOutput{InstanceID: string(instanceID), DisplayID: id}, nil
}

func (s *Server) handleRemoveWallpaper(_ context.Context, _ *mcpsdk.CallToolRequest, args DisplayInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	id := strings.TrimSpace(args.DisplayID)
	if id == "" {
		return nil, AckOutput{}, fmt.Errorf("display_id is required")
	}
	if err := s.daemon.RemoveWallpaper(display.ID(id)); err != nil {
		return nil, AckOutput{}, err
	}
	return nil, AckOutput{OK: true}, nil
}

func (s *Server) handlePauseAll(_ context.Context, _ *mcpsdk.CallToolRequest, _ any) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := s.daemon.PauseAll(); err != nil {
		return nil, AckOutput{}, err
	}
	return nil, AckOutput{OK: true}, nil
}

func (s *Server) handleResumeAll(_ context.Context, _ *mcpsdk.CallToolRequest, _ any) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := s.daemon.ResumeAll(); err != nil {
		return nil, AckOutput{}, err
	}
	return nil, AckOutput{OK: true}, nil
}
