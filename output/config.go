package output

import (
	"fmt"
	"strconv"
	"strings"

	"deedles.dev/booth/geom"
)

// Config overrides the defaults for a named output.
type Config struct {
	Name      string
	Size      geom.Point[int]
	Transform geom.Transform
}

var transformNames = map[string]geom.Transform{
	"normal":      geom.TransformNormal,
	"90":          geom.Transform90,
	"180":         geom.Transform180,
	"270":         geom.Transform270,
	"flipped":     geom.TransformFlipped,
	"flipped-90":  geom.TransformFlipped90,
	"flipped-180": geom.TransformFlipped180,
	"flipped-270": geom.TransformFlipped270,
}

// ParseConfig parses an output configuration of the form
// NAME[=WIDTHxHEIGHT][,TRANSFORM], for example "HDMI-A-1=1920x1080,90"
// or "DSI-1,270".
func ParseConfig(str string) (Config, error) {
	spec, transform, _ := strings.Cut(str, ",")
	name, size, hasSize := strings.Cut(spec, "=")
	if name == "" {
		return Config{}, fmt.Errorf("output config %q: missing name", str)
	}
	c := Config{Name: name}

	if hasSize {
		w, h, ok := strings.Cut(size, "x")
		if !ok {
			return Config{}, fmt.Errorf("output config %q: invalid size %q", str, size)
		}
		width, err := strconv.ParseInt(w, 10, 0)
		if err != nil {
			return Config{}, fmt.Errorf("output config %q: width: %w", str, err)
		}
		height, err := strconv.ParseInt(h, 10, 0)
		if err != nil {
			return Config{}, fmt.Errorf("output config %q: height: %w", str, err)
		}
		c.Size = geom.Pt(int(width), int(height))
	}

	if transform != "" {
		t, ok := transformNames[transform]
		if !ok {
			return Config{}, fmt.Errorf("output config %q: unknown transform %q", str, transform)
		}
		c.Transform = t
	}

	return c, nil
}
