package uevent_test

import (
	"strings"
	"testing"

	"deedles.dev/booth/internal/uevent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(fields ...string) []byte {
	return []byte(strings.Join(fields, "\x00") + "\x00")
}

func TestParseHotplug(t *testing.T) {
	ev, err := uevent.Parse(raw(
		"change@/devices/pci0000:00/0000:00:02.0/drm/card0",
		"ACTION=change",
		"DEVPATH=/devices/pci0000:00/0000:00:02.0/drm/card0",
		"SUBSYSTEM=drm",
		"HOTPLUG=1",
		"DEVNAME=dri/card0",
	))
	require.NoError(t, err)

	assert.Equal(t, uevent.Change, ev.Action)
	assert.Equal(t, "drm", ev.Subsystem)
	assert.True(t, ev.Hotplug())
	assert.Equal(t, "/dev/dri/card0", ev.DevName())
}

func TestParseInput(t *testing.T) {
	ev, err := uevent.Parse(raw(
		"add@/devices/virtual/input/input9/event5",
		"SUBSYSTEM=input",
		"DEVNAME=input/event5",
	))
	require.NoError(t, err)

	assert.Equal(t, uevent.Add, ev.Action)
	assert.False(t, ev.Hotplug())
	assert.Equal(t, "/dev/input/event5", ev.DevName())
}

func TestParseMalformed(t *testing.T) {
	_, err := uevent.Parse([]byte("garbage"))
	assert.Error(t, err)
}
