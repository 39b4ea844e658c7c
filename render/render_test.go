package render_test

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"deedles.dev/booth/backend"
	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/fimg"
	"deedles.dev/booth/output"
	"deedles.dev/booth/render"
	"deedles.dev/booth/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

var (
	red  = color.RGBA{R: 0xFF, A: 0xFF}
	blue = color.RGBA{B: 0xFF, A: 0xFF}
)

type submission struct {
	output string
	token  backend.PresentationToken
	damage geom.Region
}

type submitter struct {
	frames []submission
	next   backend.PresentationToken
	err    error
}

func (s *submitter) SubmitFrame(name string, frame *backend.Frame) (backend.PresentationToken, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.next++
	s.frames = append(s.frames, submission{
		output: name,
		token:  s.next,
		damage: geom.RegionOf(frame.Damage...),
	})
	return s.next, nil
}

func (s *submitter) last() submission {
	return s.frames[len(s.frames)-1]
}

type buffer struct {
	img      image.Image
	released int
}

func filled(w, h int, c color.Color) *buffer {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Rect, image.NewUniform(c), image.Point{}, draw.Src)
	return &buffer{img: img}
}

func (b *buffer) Image() image.Image { return b.img }
func (b *buffer) Release()           { b.released++ }

type callback struct {
	fired []time.Time
}

func (c *callback) Done(t time.Time) { c.fired = append(c.fired, t) }

type shell struct{}

func (shell) Configure(geom.Point[int]) {}
func (shell) Close()                    {}

type fixture struct {
	t    *testing.T
	sc   *scene.Scene
	out  *output.Output
	sub  *submitter
	loop *render.Loop
	seqs map[scene.SurfaceID]uint64
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	f := fixture{
		t:    t,
		sc:   scene.New(),
		sub:  &submitter{},
		seqs: make(map[scene.SurfaceID]uint64),
		now:  time.Unix(1000, 0),
	}

	out, err := output.NewManager(nil).Add(output.ConnectorInfo{
		Name:  "TEST-1",
		Modes: []output.Mode{{Size: geom.Pt(800, 600), RefreshMHz: 50000}},
	})
	require.NoError(t, err)
	f.out = out
	f.sc.AddOutput(out)

	f.loop = render.NewLoop(f.sc, f.sub, render.NewRenderer(color.Black))
	f.loop.AddOutput(out)
	return &f
}

func (f *fixture) commit(id scene.SurfaceID, p scene.Pending) {
	f.seqs[id]++
	p.Seq = f.seqs[id]
	require.NoError(f.t, f.sc.Commit(id, p))
}

func (f *fixture) app(b *buffer) scene.SurfaceID {
	id := f.sc.Create(nil)
	require.NoError(f.t, f.sc.SetApplicationRole(id, shell{}))
	f.commit(id, scene.Pending{Attached: true, Buffer: b})
	return id
}

// present completes the last submitted frame.
func (f *fixture) present() {
	f.now = f.now.Add(20 * time.Millisecond)
	f.loop.Presented(backend.Presented{
		Output: f.out.Name,
		Token:  f.sub.last().token,
		Time:   f.now,
	})
}

func (f *fixture) pixel(x, y int) color.RGBA {
	return f.out.Target.RGBAAt(x, y)
}

func TestRenderSkipsWithoutDamage(t *testing.T) {
	f := newFixture(t)
	b := filled(800, 600, red)
	f.app(b)

	assert.Equal(t, 1, f.loop.Tick(f.now))
	assert.Equal(t, "TEST-1", f.sub.last().output)
	assert.Equal(t, 800*600, f.sub.last().damage.Area())
	assert.Equal(t, red, f.pixel(400, 300))

	f.present()
	assert.Equal(t, 1, b.released)

	assert.Zero(t, f.loop.Tick(f.now))
	assert.Zero(t, f.loop.Tick(f.now.Add(time.Second)))
	assert.Len(t, f.sub.frames, 1)

	_, ok := f.loop.NextWakeup()
	assert.False(t, ok)
}

func TestRenderOneFramePerPresentation(t *testing.T) {
	f := newFixture(t)
	id := f.app(filled(800, 600, red))

	require.Equal(t, 1, f.loop.Tick(f.now))
	assert.True(t, f.loop.InFlight(f.out.ID))

	f.commit(id, scene.Pending{Damage: geom.RegionOf(geom.Rt(0, 0, 10, 10))})
	assert.Zero(t, f.loop.Tick(f.now), "the previous frame is still in flight")

	f.present()
	assert.Equal(t, 1, f.loop.Tick(f.now))
	assert.Equal(t, 100, f.sub.last().damage.Area())
}

func TestRenderDamageUnion(t *testing.T) {
	f := newFixture(t)
	id := f.app(filled(800, 600, red))
	f.loop.Tick(f.now)
	f.present()

	f.commit(id, scene.Pending{Damage: geom.RegionOf(geom.Rt(10, 10, 20, 20))})
	f.commit(id, scene.Pending{Damage: geom.RegionOf(geom.Rt(15, 15, 30, 30))})

	assert.Equal(t, 1, f.loop.Tick(f.now))
	assert.Len(t, f.sub.frames, 2)
	assert.Equal(t, 300, f.sub.last().damage.Area())
	assert.Equal(t, geom.Rt(10, 10, 30, 30), f.sub.last().damage.Bounds())
}

func TestRenderCallbacks(t *testing.T) {
	f := newFixture(t)
	b1, b2 := filled(800, 600, red), filled(800, 600, blue)
	cb := &callback{}
	id := f.app(b1)
	f.loop.Tick(f.now)
	f.present()

	f.commit(id, scene.Pending{
		Attached:  true,
		Buffer:    b2,
		Damage:    geom.RegionOf(geom.Rt(0, 0, 800, 600)),
		Callbacks: []scene.Callback{cb},
	})
	require.Equal(t, 1, f.loop.Tick(f.now))
	assert.Empty(t, cb.fired, "callbacks wait for presentation")
	assert.Equal(t, blue, f.pixel(0, 0))

	f.present()
	assert.Equal(t, []time.Time{f.now}, cb.fired)
	assert.Equal(t, 1, b2.released)
}

func TestRenderCallbacksWithoutDamage(t *testing.T) {
	f := newFixture(t)
	id := f.app(filled(800, 600, red))
	f.loop.Tick(f.now)
	f.present()

	cb := &callback{}
	f.commit(id, scene.Pending{Callbacks: []scene.Callback{cb}})

	assert.Zero(t, f.loop.Tick(f.now))
	assert.Len(t, f.sub.frames, 1)
	assert.Equal(t, []time.Time{f.now}, cb.fired)

	// The next cycle is paced to the refresh rate.
	f.commit(id, scene.Pending{Callbacks: []scene.Callback{cb}})
	next, ok := f.loop.NextWakeup()
	require.True(t, ok)
	assert.Equal(t, f.now.Add(20*time.Millisecond), next)
	assert.Zero(t, f.loop.Tick(f.now.Add(time.Millisecond)))
	assert.Len(t, cb.fired, 1)
	f.loop.Tick(next)
	assert.Len(t, cb.fired, 2)
}

func TestRenderStalledClient(t *testing.T) {
	f := newFixture(t)
	stalled := &callback{}
	a := f.app(filled(800, 600, red))
	f.commit(a, scene.Pending{Callbacks: []scene.Callback{stalled}})
	f.loop.Tick(f.now)
	f.present()
	require.Len(t, stalled.fired, 1)

	overlay := f.sc.Create(nil)
	require.NoError(t, f.sc.SetLayerRole(overlay, shell{}, scene.LayerState{
		Layer: scene.LayerOverlay,
		Size:  geom.Pt(100, 100),
	}))
	f.commit(overlay, scene.Pending{})
	f.commit(overlay, scene.Pending{Attached: true, Buffer: filled(100, 100, blue)})

	assert.Equal(t, 1, f.loop.Tick(f.now))
	assert.Equal(t, blue, f.pixel(400, 300))
	assert.Equal(t, red, f.pixel(10, 10))
}

func TestRenderSubmitFailure(t *testing.T) {
	f := newFixture(t)
	b := filled(800, 600, red)
	cb := &callback{}
	id := f.app(b)
	f.commit(id, scene.Pending{Callbacks: []scene.Callback{cb}})

	f.sub.err = errors.New("device busy")
	assert.Zero(t, f.loop.Tick(f.now))
	assert.False(t, f.loop.InFlight(f.out.ID))
	assert.Equal(t, 1, b.released, "the buffer was copied before the submit failed")
	assert.Empty(t, cb.fired)

	f.sub.err = nil
	assert.Zero(t, f.loop.Tick(f.now), "retries are paced")
	assert.Equal(t, 1, f.loop.Tick(f.now.Add(time.Second)))
	assert.Equal(t, 800*600, f.sub.last().damage.Area())
	assert.Equal(t, red, f.pixel(1, 1))

	f.present()
	assert.Len(t, cb.fired, 1)
}

func TestRenderOutputRemovedInFlight(t *testing.T) {
	f := newFixture(t)
	b := filled(800, 600, red)
	id := f.app(b)
	f.loop.Tick(f.now)

	f.loop.RemoveOutput(f.out.ID)
	f.sc.RemoveOutput(f.out.ID)
	f.present()

	assert.Equal(t, 1, b.released)
	assert.False(t, f.loop.InFlight(f.out.ID))

	f.sc.DamageAll(f.out.ID)
	assert.Zero(t, f.loop.Tick(f.now.Add(time.Second)))
	assert.Len(t, f.sub.frames, 1)
	assert.NotNil(t, f.sc.Get(id))
}

func TestRenderSuspend(t *testing.T) {
	f := newFixture(t)
	id := f.app(filled(800, 600, red))
	f.loop.Tick(f.now)
	f.present()

	f.loop.Suspend()
	f.commit(id, scene.Pending{Damage: geom.RegionOf(geom.Rt(0, 0, 1, 1))})
	assert.Zero(t, f.loop.Tick(f.now))
	_, ok := f.loop.NextWakeup()
	assert.False(t, ok)

	f.loop.Resume()
	assert.Equal(t, 1, f.loop.Tick(f.now))
	assert.Equal(t, 800*600, f.sub.last().damage.Area())
}

func TestRenderScaledBuffer(t *testing.T) {
	f := newFixture(t)
	id := f.sc.Create(nil)
	require.NoError(t, f.sc.SetApplicationRole(id, shell{}))
	f.commit(id, scene.Pending{Attached: true, Buffer: filled(1600, 1200, blue), Scale: 2})

	f.loop.Tick(f.now)
	assert.Equal(t, blue, f.pixel(0, 0))
	assert.Equal(t, blue, f.pixel(799, 599))
}

func TestRenderClientPixelFormat(t *testing.T) {
	f := newFixture(t)

	img := fimg.NewBGRA(image.Rect(0, 0, 800, 600))
	img.Opaque = true
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xFF
	}
	f.app(&buffer{img: img})

	f.loop.Tick(f.now)
	assert.Equal(t, blue, f.pixel(123, 456))
}

func TestRenderDefaultCursor(t *testing.T) {
	f := newFixture(t)
	f.app(filled(800, 600, red))
	f.loop.Tick(f.now)
	f.present()

	f.sc.SetCursor(f.out.ID, geom.Pt(100, 100), scene.SurfaceID{})
	require.Equal(t, 1, f.loop.Tick(f.now))
	assert.Equal(t, geom.Sized(geom.Pt(100, 100), scene.DefaultCursorSize), f.sub.last().damage.Bounds())
	assert.NotEqual(t, red, f.pixel(103, 108))
	assert.Equal(t, red, f.pixel(114, 122))
	f.present()

	f.sc.HideCursor()
	require.Equal(t, 1, f.loop.Tick(f.now))
	assert.Equal(t, red, f.pixel(103, 108))
}
