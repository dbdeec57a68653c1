package renderer

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/1broseidon/deskpaper/internal/config"
)

// templateVars returns the placeholder values for a launch.
func templateVars(spec Spec, socket string) map[string]string {
	return map[string]string{
		"source":   spec.Source,
		"socket":   socket,
		"instance": spec.InstanceID,
		"display":  spec.DisplayID,
		"x":        strconv.Itoa(spec.Bounds.X),
		"y":        strconv.Itoa(spec.Bounds.Y),
		"width":    strconv.Itoa(spec.Bounds.Width),
		"height":   strconv.Itoa(spec.Bounds.Height),
		"layout":   string(spec.Layout),
	}
}

// expandCommand substitutes {{name}} placeholders in every argument.
// Unknown placeholders are an error so typos in the config surface early.
func expandCommand(tmpl []string, vars map[string]string) ([]string, error) {
	if len(tmpl) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	pairs := make([]string, 0, len(vars)*2)
	for _, k := range sortedNames(vars) {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, 0, len(tmpl))
	for _, arg := range tmpl {
		expanded := r.Replace(arg)
		if i := strings.Index(expanded, "{{"); i >= 0 {
			if j := strings.Index(expanded[i:], "}}"); j > 0 {
				return nil, fmt.Errorf("unknown placeholder %s in %q", expanded[i:i+j+2], arg)
			}
		}
		out = append(out, expanded)
	}
	if strings.TrimSpace(out[0]) == "" {
		return nil, fmt.Errorf("command expands to an empty program name")
	}
	return out, nil
}

// buildEnv layers the renderer's configured variables and the instance
// identifiers over the daemon environment.
func buildEnv(rc config.RendererConfig, spec Spec, socket string) []string {
	env := os.Environ()
	for _, k := range sortedNames(rc.Env) {
		env = append(env, k+"="+rc.Env[k])
	}
	env = append(env,
		"DESKPAPER_INSTANCE="+spec.InstanceID,
		"DESKPAPER_DISPLAY="+spec.DisplayID,
	)
	if socket != "" {
		env = append(env, "DESKPAPER_SOCKET="+socket)
	}
	return env
}

func sortedNames(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
