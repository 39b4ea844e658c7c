package main

import (
	"image/color"
	"testing"
	"time"

	"deedles.dev/booth/backend"
	"deedles.dev/booth/geom"
	"deedles.dev/booth/seat"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (Config, error) {
	t.Helper()

	flags := pflag.NewFlagSet("booth", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	addFlags(flags)
	require.NoError(t, flags.Parse(args))

	v, err := newViper(flags)
	require.NoError(t, err)
	return loadConfig(v, flags.Args())
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "wayland-1")

	config, err := parse(t, "foot")
	require.NoError(t, err)
	assert.Equal(t, backend.KindWindowed, config.Backend)
	assert.Equal(t, logrus.InfoLevel, config.LogLevel)
	assert.Equal(t, 1280, config.Width)
	assert.Equal(t, 720, config.Height)
	assert.Equal(t, ColorBackground, config.Background)
	assert.Equal(t, int32(25), config.RepeatRate)
	assert.Equal(t, 200*time.Millisecond, config.RepeatDelay)
	assert.False(t, config.HideCursor)
	assert.Equal(t, []string{"foot"}, config.Command)
}

func TestConfigFlags(t *testing.T) {
	config, err := parse(t,
		"--backend", "tty",
		"--background", "#336699",
		"--hide-cursor",
		"--output", "HDMI-A-1=1920x1080,90",
		"--repeat-delay", "500ms",
		"kiosk", "--fullscreen", "https://example.com",
	)
	require.NoError(t, err)
	assert.Equal(t, backend.KindNative, config.Backend)
	assert.Equal(t, color.NRGBA{0x33, 0x66, 0x99, 0xFF}, config.Background)
	assert.True(t, config.HideCursor)
	assert.Equal(t, 500*time.Millisecond, config.RepeatDelay)
	require.Len(t, config.Outputs, 1)
	assert.Equal(t, "HDMI-A-1", config.Outputs[0].Name)
	assert.Equal(t, geom.Transform90, config.Outputs[0].Transform)
	assert.Equal(t, []string{"kiosk", "--fullscreen", "https://example.com"}, config.Command)
}

func TestConfigEnvironment(t *testing.T) {
	t.Setenv("BOOTH_BACKEND", "windowed")
	t.Setenv("BOOTH_LOG_LEVEL", "debug")
	t.Setenv("BOOTH_XKB_LAYOUT", "de")

	config, err := parse(t, "foot")
	require.NoError(t, err)
	assert.Equal(t, backend.KindWindowed, config.Backend)
	assert.Equal(t, logrus.DebugLevel, config.LogLevel)
	assert.Equal(t, "de", config.XKB.Layout)

	config, err = parse(t, "--backend", "native", "foot")
	require.NoError(t, err)
	assert.Equal(t, backend.KindNative, config.Backend, "flags override the environment")
}

func TestConfigErrors(t *testing.T) {
	_, err := parse(t)
	assert.ErrorIs(t, err, errNoCommand)

	_, err = parse(t, "--backend", "x11", "foot")
	assert.ErrorIs(t, err, backend.ErrUnknownKind)

	_, err = parse(t, "--background", "blue", "foot")
	assert.Error(t, err)

	_, err = parse(t, "--width", "0", "foot")
	assert.Error(t, err)

	_, err = parse(t, "--log-level", "loud", "foot")
	assert.Error(t, err)
}

func TestParseColor(t *testing.T) {
	c, err := parseColor("#11223344")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{0x11, 0x22, 0x33, 0x44}, c)

	c, err = parseColor("ffffff")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{0xFF, 0xFF, 0xFF, 0xFF}, c)

	_, err = parseColor("#12345")
	assert.Error(t, err)
	_, err = parseColor("#gggggg")
	assert.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, seat.Capabilities(0), capabilities(0))
	assert.Equal(t, seat.CapKeyboard|seat.CapPointer, capabilities(backend.DeviceKeyboard|backend.DevicePointer))
	assert.Equal(t, seat.CapTouch, capabilities(backend.DeviceTouch))
}
