// Package render schedules and draws frames. Each output cycles
// between idle and having a frame in flight: a cycle composites the
// scene into the output's render target and submits it, and the
// backend's presentation event returns the output to idle.
package render

import (
	"time"

	"deedles.dev/booth/backend"
	"deedles.dev/booth/output"
	"deedles.dev/booth/scene"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Submitter presents frames. It is implemented by *backend.Backend.
type Submitter interface {
	SubmitFrame(name string, frame *backend.Frame) (backend.PresentationToken, error)
}

type state struct {
	out   *output.Output
	frame *scene.Frame
	token backend.PresentationToken

	// next is the earliest time that the next cycle may start.
	next time.Time
}

func (st *state) log() *logrus.Entry {
	return logrus.WithField("output", st.out.Name)
}

// Loop is the repaint scheduler of every output.
type Loop struct {
	Scene    *scene.Scene
	Backend  Submitter
	Renderer *Renderer

	states map[output.ID]*state
	order  []output.ID

	// orphans are frames in flight on outputs that have since been
	// removed.
	orphans map[backend.PresentationToken]*scene.Frame

	suspended bool
}

func NewLoop(sc *scene.Scene, sub Submitter, r *Renderer) *Loop {
	return &Loop{
		Scene:    sc,
		Backend:  sub,
		Renderer: r,
		states:   make(map[output.ID]*state),
		orphans:  make(map[backend.PresentationToken]*scene.Frame),
	}
}

// AddOutput starts scheduling frames for an output.
func (l *Loop) AddOutput(out *output.Output) {
	if _, ok := l.states[out.ID]; ok {
		return
	}
	l.states[out.ID] = &state{out: out}
	l.order = append(l.order, out.ID)
}

// RemoveOutput stops scheduling frames for an output. A frame still
// in flight is discarded when the backend reports on it.
func (l *Loop) RemoveOutput(id output.ID) {
	st := l.states[id]
	if st == nil {
		return
	}
	delete(l.states, id)
	l.order = slices.DeleteFunc(l.order, func(o output.ID) bool { return o == id })

	if st.frame != nil {
		l.orphans[st.token] = st.frame
	}
}

// InFlight reports whether an output is waiting for a frame to be
// presented.
func (l *Loop) InFlight(id output.ID) bool {
	st := l.states[id]
	return st != nil && st.frame != nil
}

// Tick runs a cycle on every output that is due. It returns the
// number of frames submitted.
func (l *Loop) Tick(now time.Time) int {
	if l.suspended {
		return 0
	}

	var submitted int
	for _, id := range l.order {
		st := l.states[id]
		if st.frame != nil || now.Before(st.next) {
			continue
		}
		if l.cycle(now, st) {
			submitted++
		}
	}
	return submitted
}

// cycle repaints an output if anything on it changed. It reports
// whether a frame was submitted.
func (l *Loop) cycle(now time.Time, st *state) bool {
	if !l.Scene.NeedsFrame(st.out.ID) {
		return false
	}

	frame, err := l.Scene.BeginFrame(st.out.ID)
	if err != nil {
		st.log().WithError(err).Warnln("begin frame")
		return false
	}

	if frame.Damage.Empty() {
		// Nothing changed on screen, but clients are waiting for
		// frame callbacks. Pace them to the refresh rate.
		fire(l.Scene.FinishFrame(frame), now)
		st.next = now.Add(st.out.Mode.Interval())
		return false
	}

	l.Renderer.Draw(l.Scene, st.out, frame)

	token, err := l.Backend.SubmitFrame(st.out.Name, &backend.Frame{
		Image:     st.out.Target,
		Damage:    frame.Damage.Rects(),
		Transform: st.out.Transform,
	})
	if err != nil {
		st.log().WithError(err).Warnln("submit frame")
		l.Scene.AbortFrame(frame)
		st.next = now.Add(st.out.Mode.Interval())
		return false
	}

	st.frame = frame
	st.token = token
	return true
}

// Presented completes the frame that a presentation event refers to.
func (l *Loop) Presented(ev backend.Presented) {
	if frame, ok := l.orphans[ev.Token]; ok {
		delete(l.orphans, ev.Token)
		l.Scene.DiscardFrame(frame)
		return
	}

	st := l.inFlight(ev.Token)
	if st == nil {
		logrus.WithFields(logrus.Fields{
			"output": ev.Output,
			"token":  ev.Token,
		}).Debugln("presentation for unknown frame")
		return
	}
	frame := st.frame
	st.frame = nil

	if ev.Discarded {
		l.Scene.AbortFrame(frame)
		st.next = ev.Time.Add(st.out.Mode.Interval())
		return
	}

	fire(l.Scene.FinishFrame(frame), ev.Time)
	st.next = ev.Time
}

func (l *Loop) inFlight(token backend.PresentationToken) *state {
	for _, id := range l.order {
		st := l.states[id]
		if st.frame != nil && st.token == token {
			return st
		}
	}
	return nil
}

// NextWakeup returns the earliest time at which Tick has work to do.
// It returns false if nothing will be due until the scene changes or
// a frame is presented.
func (l *Loop) NextWakeup() (time.Time, bool) {
	if l.suspended {
		return time.Time{}, false
	}

	var next time.Time
	var ok bool
	for _, id := range l.order {
		st := l.states[id]
		if st.frame != nil || !l.Scene.NeedsFrame(id) {
			continue
		}
		if !ok || st.next.Before(next) {
			next = st.next
			ok = true
		}
	}
	return next, ok
}

// Suspend stops all rendering, such as while the session is
// inactive. Frames that would have been drawn are skipped, not
// queued.
func (l *Loop) Suspend() {
	l.suspended = true
}

// Resume restarts rendering after Suspend. Frames that were in flight
// when the session was lost are abandoned and every output is
// redrawn in full.
func (l *Loop) Resume() {
	if !l.suspended {
		return
	}
	l.suspended = false

	for _, id := range l.order {
		st := l.states[id]
		if st.frame != nil {
			l.Scene.AbortFrame(st.frame)
			st.frame = nil
		}
		st.next = time.Time{}
		l.Scene.DamageAll(id)
	}
}

func fire(callbacks []scene.Callback, t time.Time) {
	for _, cb := range callbacks {
		cb.Done(t)
	}
}
