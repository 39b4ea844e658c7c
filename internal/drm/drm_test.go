package drm_test

import (
	"encoding/binary"
	"testing"

	"deedles.dev/booth/internal/drm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFourcc(t *testing.T) {
	assert.Equal(t, uint32(0x34325241), drm.FormatARGB8888)
	assert.Equal(t, uint32(0x34325258), drm.FormatXRGB8888)
}

func TestRefresh(t *testing.T) {
	mode := drm.ModeInfo{
		Clock:    148500,
		HDisplay: 1920,
		HTotal:   2200,
		VDisplay: 1080,
		VTotal:   1125,
		VRefresh: 60,
		Type:     1 << 3,
	}
	copy(mode.Name[:], "1920x1080")

	assert.Equal(t, 60000, mode.RefreshMHz())
	assert.True(t, mode.Preferred())
	assert.Equal(t, "1920x1080", mode.String())
}

func TestParseEvents(t *testing.T) {
	buf := make([]byte, 32+12)

	// An unrelated event first, then a flip completion.
	binary.NativeEndian.PutUint32(buf[0:], 0x01)
	binary.NativeEndian.PutUint32(buf[4:], 12)

	flip := buf[12:]
	binary.NativeEndian.PutUint32(flip[0:], 0x02)
	binary.NativeEndian.PutUint32(flip[4:], 32)
	binary.NativeEndian.PutUint64(flip[8:], 42)
	binary.NativeEndian.PutUint32(flip[16:], 10)
	binary.NativeEndian.PutUint32(flip[20:], 500)
	binary.NativeEndian.PutUint32(flip[24:], 7)
	binary.NativeEndian.PutUint32(flip[28:], 31)

	events := drm.ParseEvents(buf)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(42), events[0].UserData)
	assert.Equal(t, uint32(31), events[0].CRTC)
	assert.Equal(t, int64(10), events[0].Time.Unix())
	assert.Equal(t, 500000, events[0].Time.Nanosecond())
}
