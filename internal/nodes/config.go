package nodes

import (
	"encoding/json"

	"github.com/technosupport/ts-analytics/internal/vision"
)

// Graph node configs arrive as loosely typed JSON. These helpers pull
// typed values out with a default when the key is absent or malformed.

func cfgString(config map[string]any, key, def string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return def
}

func cfgFloat(config map[string]any, key string, def float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

func cfgInt(config map[string]any, key string, def int) int {
	switch v := config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	}
	return def
}

func cfgBool(config map[string]any, key string, def bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return def
}

func cfgStrings(config map[string]any, key string) []string {
	raw, ok := config[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// cfgPoints parses [[x,y], ...] point lists.
func cfgPoints(config map[string]any, key string) []vision.Point {
	raw, ok := config[key].([]any)
	if !ok {
		return nil
	}
	out := make([]vision.Point, 0, len(raw))
	for _, item := range raw {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		x, okX := asFloat(pair[0])
		y, okY := asFloat(pair[1])
		if okX && okY {
			out = append(out, vision.Point{X: x, Y: y})
		}
	}
	return out
}

// cfgLine parses a two-point segment; ok is false unless both
// endpoints parse.
func cfgLine(config map[string]any, key string) (a, b vision.Point, ok bool) {
	pts := cfgPoints(config, key)
	if len(pts) != 2 {
		return vision.Point{}, vision.Point{}, false
	}
	return pts[0], pts[1], true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
