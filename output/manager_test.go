package output_test

import (
	"testing"
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modes() []output.Mode {
	return []output.Mode{
		{Size: geom.Pt(1024, 768), RefreshMHz: 60000},
		{Size: geom.Pt(1920, 1080), RefreshMHz: 60000, Preferred: true},
		{Size: geom.Pt(1280, 720), RefreshMHz: 75000},
	}
}

func TestAddSelectsPreferredMode(t *testing.T) {
	m := output.NewManager(nil)
	out, err := m.Add(output.ConnectorInfo{Name: "HDMI-A-1", Modes: modes()})
	require.NoError(t, err)

	assert.Equal(t, geom.Pt(1920, 1080), out.Mode.Size)
	assert.Equal(t, 1920, out.Target.Rect.Dx())
	assert.Equal(t, 1080, out.Target.Rect.Dy())
	assert.True(t, out.Primary)
}

func TestAddFallsBackToFirstMode(t *testing.T) {
	m := output.NewManager(nil)
	ms := modes()
	ms[1].Preferred = false

	out, err := m.Add(output.ConnectorInfo{Name: "DP-1", Modes: ms})
	require.NoError(t, err)
	assert.Equal(t, geom.Pt(1024, 768), out.Mode.Size)
}

func TestAddNoModes(t *testing.T) {
	m := output.NewManager(nil)
	_, err := m.Add(output.ConnectorInfo{Name: "DP-1"})
	assert.ErrorIs(t, err, output.ErrNoModes)
	assert.Zero(t, m.Len())
}

func TestAddDuplicate(t *testing.T) {
	m := output.NewManager(nil)
	_, err := m.Add(output.ConnectorInfo{Name: "DP-1", Modes: modes()})
	require.NoError(t, err)
	_, err = m.Add(output.ConnectorInfo{Name: "DP-1", Modes: modes()})
	assert.ErrorIs(t, err, output.ErrDuplicate)
}

func TestConfigOverride(t *testing.T) {
	config, err := output.ParseConfig("DSI-1=1280x720,90")
	require.NoError(t, err)

	m := output.NewManager([]output.Config{config})
	out, err := m.Add(output.ConnectorInfo{Name: "DSI-1", Modes: modes()})
	require.NoError(t, err)

	assert.Equal(t, geom.Pt(1280, 720), out.Mode.Size)
	assert.Equal(t, geom.Transform90, out.Transform)
	assert.Equal(t, geom.Pt(720, 1280), out.Size())
	assert.Equal(t, 720, out.Target.Rect.Dx())
}

func TestParseConfigErrors(t *testing.T) {
	for _, str := range []string{"", "=1x1", "A=1", "A=ax1", "A,sideways"} {
		_, err := output.ParseConfig(str)
		assert.Error(t, err, str)
	}
}

func TestRemoveAndLayout(t *testing.T) {
	m := output.NewManager(nil)
	a, err := m.Add(output.ConnectorInfo{Name: "A", Modes: modes()})
	require.NoError(t, err)
	b, err := m.Add(output.ConnectorInfo{Name: "B", Modes: modes()})
	require.NoError(t, err)

	assert.Equal(t, geom.Rt(1920, 0, 3840, 1080), b.Bounds())
	assert.Same(t, b, m.At(geom.Pt(2000, 10)))
	assert.Equal(t, geom.Rt(0, 0, 3840, 1080), m.Bounds())

	removed, err := m.Remove(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, removed)
	assert.True(t, b.Primary)
	assert.Same(t, b, m.Primary())
	assert.Equal(t, geom.Rt(0, 0, 1920, 1080), b.Bounds())

	_, err = m.Remove(a.ID)
	assert.ErrorIs(t, err, output.ErrUnknownOutput)
}

func TestSetMode(t *testing.T) {
	m := output.NewManager(nil)
	out, err := m.Add(output.ConnectorInfo{Name: "WL-1", Modes: []output.Mode{{Size: geom.Pt(800, 600)}}})
	require.NoError(t, err)

	require.NoError(t, m.SetMode(out.ID, output.Mode{Size: geom.Pt(1000, 500)}))
	assert.Equal(t, 1000, out.Target.Rect.Dx())
	assert.Len(t, out.Modes, 1)
}

func TestModeInterval(t *testing.T) {
	assert.Equal(t, 16666666*time.Nanosecond, output.Mode{RefreshMHz: 60000}.Interval())
	assert.Equal(t, output.Mode{RefreshMHz: 60000}.Interval(), output.Mode{}.Interval())
}
