package mcp

// ListDisplaysOutput is the output for the list_displays tool.
type ListDisplaysOutput struct {
	Displays []DisplayInfo `json:"displays"`
}

// DisplayInfo describes one monitor known to the daemon.
type DisplayInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Primary   bool   `json:"primary"`
	Connected bool   `json:"connected"`
}

// ListWallpapersOutput is the output for the list_wallpapers tool.
type ListWallpapersOutput struct {
	Wallpapers []WallpaperInfo `json:"wallpapers"`
}

// WallpaperInfo describes one wallpaper instance.
type WallpaperInfo struct {
	InstanceID string `json:"instance_id"`
	DisplayID  string `json:"display_id"`
	Type       string `json:"type"`
	Source     string `json:"source"`
	Layout     string `json:"layout"`
	State      string `json:"state"`
	Desired    string `json:"desired"`
	Attached   bool   `json:"attached"`
	PID        int    `json:"pid,omitempty"`
	Restarts   int    `json:"restarts"`
	LastError  string `json:"last_error,omitempty"`
}

// SetWallpaperInput is the input for the set_wallpaper tool.
type SetWallpaperInput struct {
	DisplayID  string `json:"display_id" jsonschema:"Display ID as returned by list_displays"`
	Type       string `json:"type" jsonschema:"Wallpaper type: video, webpage, gif, image, application or native"`
	Source     string `json:"source,omitempty" jsonschema:"File path, URL or command line, depending on the type"`
	Layout     string `json:"layout,omitempty" jsonschema:"Scaling: fill (default), fit, stretch, tile or center"`
	MouseInput bool   `json:"mouse_input,omitempty" jsonschema:"Interactive wallpaper; keeps running while a fullscreen application has focus"`
}

// SetWallpaperOutput is the output for the set_wallpaper tool.
type SetWallpaperOutput struct {
	InstanceID string `json:"instance_id"`
	DisplayID  string `json:"display_id"`
}

// DisplayInput names a display.
type DisplayInput struct {
	DisplayID string `json:"display_id" jsonschema:"Display ID as returned by list_displays"`
}

// AckOutput is returned by tools that only change state.
type AckOutput struct {
	OK bool `json:"ok"`
}
