package main

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

var (
	ColorBackground = color.NRGBA{0x00, 0x00, 0x00, 0xFF}
)

// parseColor parses a colour written as #RRGGBB or #RRGGBBAA. The
// leading # is optional.
func parseColor(str string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(str), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", str)
	}
	if len(hex) == 6 {
		hex += "ff"
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", str)
	}

	return color.NRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}
