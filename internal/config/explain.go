package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Explain returns the effective value at the given YAML path and its source.
//
// Paths follow the config file layout, for example:
//
//	log_level
//	policy.pause_on_fullscreen
//	policy.poll_interval
//	timeouts.launch
//	limits.max_auto_restarts
//	renderers.video.command
//
// Durations are reported in their string form ("10s").
func Explain(res *LoadResult, path string) (any, Source, error) {
	if res == nil || res.Config == nil {
		return nil, Source{}, fmt.Errorf("no config loaded")
	}
	if path == "" {
		return nil, Source{}, fmt.Errorf("path is empty")
	}

	value, err := lookupValue(res.Config, path)
	if err != nil {
		return nil, Source{}, err
	}

	if src, ok := res.Sources[path]; ok {
		return value, src, nil
	}
	return value, Source{Kind: SourceDefault, Name: "defaults"}, nil
}

func lookupValue(cfg *Config, path string) (any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode config tree: %w", err)
	}

	var cur any = tree
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		next, ok := m[part]
		if !ok {
			if isOmittableLeaf(path) {
				return "", nil
			}
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		cur = next
	}
	return cur, nil
}

// isOmittableLeaf reports whether path names a field dropped by omitempty
// when unset, so Explain can still answer with its zero value.
func isOmittableLeaf(path string) bool {
	switch path {
	case "display", "xauthority", "hotkeys.toggle_pause":
		return true
	}
	return false
}
