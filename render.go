package main

import (
	"time"

	"deedles.dev/booth/backend"
	"github.com/sirupsen/logrus"
)

// wakeup returns a channel that fires when the render loop next has
// work to do, or nil if it will only have some after something else
// happens.
func (server *Server) wakeup() <-chan time.Time {
	next, ok := server.loop.NextWakeup()
	if !ok {
		return nil
	}
	return time.After(time.Until(next))
}

func (server *Server) onPresented(ev backend.Presented) {
	if ev.Discarded {
		logrus.WithFields(logrus.Fields{
			"output": ev.Output,
			"token":  ev.Token,
		}).Debugln("frame discarded")
	}
	server.loop.Presented(ev)
}
