package protocol

import (
	"image"
	"os"

	"deedles.dev/booth/internal/fimg"
	"deedles.dev/booth/internal/shm"
	"deedles.dev/booth/internal/wire"
	"golang.org/x/sys/unix"
)

// Formats of wl_shm. Only the two formats that every compositor must
// support are offered.
const (
	formatARGB8888 = 0
	formatXRGB8888 = 1
)

// Error codes of wl_shm.
const (
	shmErrInvalidFormat = 0
	shmErrInvalidStride = 1
	shmErrInvalidFD     = 2
)

type shmGlobal struct {
	resource
}

func bindShm(c *Client, id, version uint32) (object, error) {
	s := shmGlobal{resource: resource{client: c, id: id, iface: "wl_shm", version: version}}
	for _, f := range []uint32{formatARGB8888, formatXRGB8888} {
		ev := s.event(0, "format")
		ev.WriteUint(f)
		s.send(ev)
	}
	return &s, nil
}

func (s *shmGlobal) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // create_pool
		id := msg.ReadNewID()
		file := msg.ReadFile()
		size := msg.ReadInt()
		if err := msg.Err(); err != nil {
			if file != nil {
				file.Close()
			}
			return s.errorf(shmErrInvalidFD, "%v", err)
		}
		if size <= 0 {
			file.Close()
			return s.errorf(shmErrInvalidStride, "invalid pool size %v", size)
		}

		mem, err := shm.Map(file, int(size), unix.PROT_READ)
		if err != nil {
			file.Close()
			return s.errorf(shmErrInvalidFD, "map pool: %v", err)
		}

		pool := shmPool{
			resource: resource{client: s.client, id: id, iface: "wl_shm_pool", version: s.version},
			file:     file,
			mem:      mem,
			refs:     1,
		}
		return s.client.add(id, &pool)

	default:
		return s.unknownOp(msg.Op())
	}
}

func (s *shmGlobal) destroy() {}

// shmPool is a client's shared memory mapping. It stays mapped until
// the pool and every buffer created from it are gone.
type shmPool struct {
	resource
	file *os.File
	mem  shm.Mmap
	refs int
}

func (pool *shmPool) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // create_buffer
		id := msg.ReadNewID()
		offset := int(msg.ReadInt())
		width, height := int(msg.ReadInt()), int(msg.ReadInt())
		stride := int(msg.ReadInt())
		format := msg.ReadUint()

		if format != formatARGB8888 && format != formatXRGB8888 {
			return pool.errorf(shmErrInvalidFormat, "unsupported format %#x", format)
		}
		if offset < 0 || width <= 0 || height <= 0 || stride < width*4 || offset+stride*height > len(pool.mem) {
			return pool.errorf(shmErrInvalidStride, "invalid buffer %vx%v with stride %v at %v in a pool of %v bytes", width, height, stride, offset, len(pool.mem))
		}

		buf := shmBuffer{
			resource: resource{client: pool.client, id: id, iface: "wl_buffer", version: 1},
			pool:     pool,
			offset:   offset,
			size:     image.Pt(width, height),
			stride:   stride,
			opaque:   format == formatXRGB8888,
		}
		pool.refs++
		return pool.client.add(id, &buf)

	case 1: // destroy
		pool.client.remove(pool.id)
		return nil

	case 2: // resize
		size := int(msg.ReadInt())
		if size < len(pool.mem) {
			return pool.errorf(shmErrInvalidStride, "pool shrunk from %v to %v bytes", len(pool.mem), size)
		}
		if size == len(pool.mem) {
			return nil
		}

		mem, err := shm.Map(pool.file, size, unix.PROT_READ)
		if err != nil {
			return pool.errorf(shmErrInvalidFD, "remap pool: %v", err)
		}
		pool.mem.Unmap()
		pool.mem = mem
		return nil

	default:
		return pool.unknownOp(msg.Op())
	}
}

func (pool *shmPool) destroy() {
	pool.unref()
}

func (pool *shmPool) unref() {
	pool.refs--
	if pool.refs > 0 {
		return
	}
	pool.mem.Unmap()
	pool.mem = nil
	pool.file.Close()
}

// shmBuffer is a wl_buffer backed by a pool. Each commit that
// attaches it counts as a use, and it is released back to the client
// once every use has been released by the scene.
type shmBuffer struct {
	resource
	pool   *shmPool
	offset int
	size   image.Point
	stride int
	opaque bool

	uses int
	dead bool
}

func (buf *shmBuffer) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // destroy
		buf.client.remove(buf.id)
		return nil

	default:
		return buf.unknownOp(msg.Op())
	}
}

func (buf *shmBuffer) destroy() {
	if buf.dead {
		return
	}
	buf.dead = true
	if buf.uses == 0 {
		buf.pool.unref()
	}
}

func (buf *shmBuffer) image() image.Image {
	mem := buf.pool.mem
	end := buf.offset + buf.stride*(buf.size.Y-1) + buf.size.X*4
	if end > len(mem) {
		return fimg.NewBGRA(image.Rectangle{Max: buf.size})
	}
	return &fimg.BGRA{
		Pix:    mem[buf.offset:end:end],
		Stride: buf.stride,
		Rect:   image.Rectangle{Max: buf.size},
		Opaque: buf.opaque,
	}
}

func (buf *shmBuffer) use() *bufferRef {
	buf.uses++
	return &bufferRef{buf: buf}
}

func (buf *shmBuffer) unuse() {
	buf.uses--
	if buf.uses > 0 {
		return
	}
	if buf.dead {
		buf.pool.unref()
		return
	}
	buf.send(buf.event(0, "release"))
}

// bufferRef is a single use of a buffer, handed to the scene.
type bufferRef struct {
	buf      *shmBuffer
	released bool
}

func (ref *bufferRef) Image() image.Image {
	return ref.buf.image()
}

func (ref *bufferRef) Release() {
	if ref.released {
		return
	}
	ref.released = true
	ref.buf.unuse()
}
