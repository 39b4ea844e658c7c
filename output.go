package main

import (
	"deedles.dev/booth/output"
	"github.com/sirupsen/logrus"
)

func (server *Server) onOutputAdded(info output.ConnectorInfo) {
	out, err := server.outputs.Add(info)
	if err != nil {
		logrus.WithError(err).WithField("output", info.Name).Warnln("add output")
		return
	}

	server.scene.AddOutput(out)
	server.proto.AddOutput(out)
	server.loop.AddOutput(out)
	server.refocus = true

	logrus.WithFields(logrus.Fields{
		"output":  out.Name,
		"mode":    out.Mode,
		"bounds":  out.Bounds(),
		"primary": out.Primary,
	}).Infoln("output added")
}

func (server *Server) onOutputRemoved(name string) {
	out := server.outputs.ByName(name)
	if out == nil {
		logrus.WithField("output", name).Debugln("removal of unknown output")
		return
	}

	server.loop.RemoveOutput(out.ID)
	server.scene.RemoveOutput(out.ID)
	server.proto.RemoveOutput(out.ID)
	_, err := server.outputs.Remove(out.ID)
	if err != nil {
		logrus.WithError(err).Warnln("remove output")
	}
	server.refocus = true

	logrus.WithField("output", name).Infoln("output removed")
}

// onOutputModeChanged applies a mode chosen by the backend, such as
// when the host window of the windowed backend is resized.
func (server *Server) onOutputModeChanged(name string, mode output.Mode) {
	out := server.outputs.ByName(name)
	if out == nil {
		return
	}

	err := server.outputs.SetMode(out.ID, mode)
	if err != nil {
		logrus.WithError(err).WithField("output", name).Warnln("set mode")
		return
	}
	err = server.scene.ResizeOutput(out.ID)
	if err != nil {
		logrus.WithError(err).WithField("output", name).Warnln("resize output")
	}
	server.proto.UpdateOutput(out.ID)
	server.refocus = true

	logrus.WithFields(logrus.Fields{
		"output": name,
		"mode":   mode,
	}).Infoln("output mode changed")
}
