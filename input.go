package main

import (
	"deedles.dev/booth/backend"
	"deedles.dev/booth/seat"
	"github.com/sirupsen/logrus"
)

func capabilities(t backend.DeviceType) seat.Capabilities {
	var caps seat.Capabilities
	if t&backend.DeviceKeyboard != 0 {
		caps |= seat.CapKeyboard
	}
	if t&backend.DevicePointer != 0 {
		caps |= seat.CapPointer
	}
	if t&backend.DeviceTouch != 0 {
		caps |= seat.CapTouch
	}
	return caps
}

func (server *Server) onInputDeviceAdded(name string, t backend.DeviceType) {
	logrus.WithFields(logrus.Fields{
		"device": name,
		"type":   t,
	}).Infoln("input device added")

	_, changed := server.seat.AddDevice(name, capabilities(t))
	if changed {
		server.proto.UpdateCapabilities()
	}
}

func (server *Server) onInputDeviceRemoved(name string) {
	logrus.WithField("device", name).Infoln("input device removed")

	_, changed := server.seat.RemoveDevice(name)
	if changed {
		server.proto.UpdateCapabilities()
	}
}

func (server *Server) switchVT(vt int) {
	logrus.WithField("vt", vt).Infoln("switching virtual terminal")

	err := server.backend.SwitchVT(vt)
	if err != nil {
		logrus.WithError(err).Warnln("switch virtual terminal")
	}
}
