// Package bufpool recycles the byte slices used to receive SMB frames.
//
// Frames fall into three classes. Control traffic (negotiate, echo, tree
// connect, most errors) fits in a few kilobytes. Read and write payloads are
// bounded by the negotiated buffer size, normally 64KiB plus headers. The
// largest class covers the default receive limit of the transport. Anything
// bigger is allocated directly and left to the garbage collector.
//
//	frame := bufpool.Get(n)
//	defer bufpool.Put(frame)
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Default class capacities.
const (
	DefaultControlSize = 4 * 1024
	DefaultDataSize    = 64*1024 + 1024
	DefaultBulkSize    = 128*1024 + 1024
)

// Class identifies the pool a buffer was drawn from.
type Class int

const (
	ClassControl Class = iota
	ClassData
	ClassBulk
	// ClassUnpooled marks a buffer too large for any class.
	ClassUnpooled
)

func (c Class) String() string {
	switch c {
	case ClassControl:
		return "control"
	case ClassData:
		return "data"
	case ClassBulk:
		return "bulk"
	default:
		return "unpooled"
	}
}

// Config sets the capacity of each class. Zero fields take the defaults.
type Config struct {
	ControlSize int
	DataSize    int
	BulkSize    int
}

// Stats counts buffers handed out per class since the pool was created.
type Stats struct {
	Control  uint64
	Data     uint64
	Bulk     uint64
	Unpooled uint64
}

type class struct {
	size int
	pool sync.Pool
	gets atomic.Uint64
}

func newClass(size int) *class {
	c := &class{size: size}
	c.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return c
}

func (c *class) get(n int) []byte {
	c.gets.Add(1)
	b := *c.pool.Get().(*[]byte)
	return b[:n]
}

func (c *class) put(b []byte) {
	b = b[:c.size]
	c.pool.Put(&b)
}

// Pool hands out frame buffers from size classes.
type Pool struct {
	classes  [3]*class
	unpooled atomic.Uint64
}

// NewPool builds a pool. Class sizes are forced to be non-decreasing.
func NewPool(cfg Config) *Pool {
	if cfg.ControlSize <= 0 {
		cfg.ControlSize = DefaultControlSize
	}
	if cfg.DataSize < cfg.ControlSize {
		cfg.DataSize = max(DefaultDataSize, cfg.ControlSize)
	}
	if cfg.BulkSize < cfg.DataSize {
		cfg.BulkSize = max(DefaultBulkSize, cfg.DataSize)
	}
	return &Pool{classes: [3]*class{
		newClass(cfg.ControlSize),
		newClass(cfg.DataSize),
		newClass(cfg.BulkSize),
	}}
}

// ClassOf reports which class serves a request for n bytes.
func (p *Pool) ClassOf(n int) Class {
	for i, c := range p.classes {
		if n <= c.size {
			return Class(i)
		}
	}
	return ClassUnpooled
}

// Get returns a slice of length n. Its capacity may be larger.
func (p *Pool) Get(n int) []byte {
	if n < 0 {
		n = 0
	}
	cl := p.ClassOf(n)
	if cl == ClassUnpooled {
		p.unpooled.Add(1)
		return make([]byte, n)
	}
	return p.classes[cl].get(n)
}

// Put recycles b. Slices whose capacity does not match a class exactly are
// dropped, which covers nil, unpooled and re-sliced buffers.
func (p *Pool) Put(b []byte) {
	for _, c := range p.classes {
		if cap(b) == c.size {
			c.put(b)
			return
		}
	}
}

// Stats returns allocation counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Control:  p.classes[ClassControl].gets.Load(),
		Data:     p.classes[ClassData].gets.Load(),
		Bulk:     p.classes[ClassBulk].gets.Load(),
		Unpooled: p.unpooled.Load(),
	}
}

var shared = NewPool(Config{})

// Get draws a frame buffer of length n from the shared pool.
func Get(n int) []byte { return shared.Get(n) }

// Put returns a buffer obtained from Get to the shared pool.
func Put(b []byte) { shared.Put(b) }
