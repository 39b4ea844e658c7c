package main

import (
	"deedles.dev/booth/scene"
	"github.com/sirupsen/logrus"
)

func surfaceFields(s *scene.Surface) logrus.Fields {
	return logrus.Fields{
		"surface": s.ID(),
		"role":    s.Role(),
		"output":  s.Output(),
	}
}

// SurfaceMapped implements scene.Listener.
func (server *Server) SurfaceMapped(s *scene.Surface) {
	logrus.WithFields(surfaceFields(s)).Debugln("surface mapped")

	server.proto.SurfaceMapped(s)
	server.refocus = true
}

// SurfaceUnmapped implements scene.Listener.
func (server *Server) SurfaceUnmapped(s *scene.Surface) {
	logrus.WithFields(surfaceFields(s)).Debugln("surface unmapped")

	server.proto.SurfaceUnmapped(s)
	server.refocus = true
}

// SurfaceDestroyed implements scene.Listener.
func (server *Server) SurfaceDestroyed(s *scene.Surface) {
	logrus.WithFields(surfaceFields(s)).Debugln("surface destroyed")

	server.proto.SurfaceDestroyed(s)
	server.renderer.Forget(s.ID())
	server.refocus = true
}
