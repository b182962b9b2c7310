// Package memtrack is a debug allocator. It wraps a system allocator,
// brackets every block with canaries, records where each block was
// allocated, and reports the blocks still live when the context is
// destroyed.
package memtrack

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/phuslu/log"
)

var (
	ErrAllocationFailed   = errors.New("memtrack: allocation failed")
	ErrCorruptBlock       = errors.New("memtrack: corrupt block")
	ErrReallocUnsupported = errors.New("memtrack: allocator cannot reallocate")
	ErrDestroyed          = errors.New("memtrack: context already destroyed")
)

// Stats is a snapshot of a context's counters. Byte counts include the
// envelope overhead.
type Stats struct {
	Allocs           uint64
	Frees            uint64
	CurrentAllocated uint64
	TotalAllocated   uint64
	MaxAllocated     uint64
}

// Pending returns the number of allocations not yet freed.
func (s Stats) Pending() uint64 { return s.Allocs - s.Frees }

// Context owns the counters and the live-block list. Every operation goes
// through one; callers that want a process-wide instance keep one in a
// variable of their own.
type Context struct {
	sys     Allocator
	lock    sync.Locker
	logger  *log.Logger
	options Options

	leakLog     string
	console     io.Writer
	outputLimit int

	stats     Stats
	blocks    *blockList
	destroyed bool
}

// New initialises a context from config.
func New(config Config) *Context {
	config = config.withDefaults()
	return &Context{
		sys:         config.Allocator,
		lock:        config.Locker,
		logger:      config.Logger,
		options:     config.Options,
		leakLog:     config.LeakLog,
		console:     config.Console,
		outputLimit: config.OutputLimit,
		blocks:      newBlockList(),
	}
}

func (c *Context) traceOps() bool    { return c.options&TraceOps != 0 }
func (c *Context) traceChecks() bool { return c.options&TraceChecks != 0 }

func (c *Context) checkLogger() *log.Logger {
	if c.traceChecks() {
		return c.logger
	}
	return nil
}

// Stats returns a consistent snapshot of the counters.
func (c *Context) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.stats
}

// Len returns the number of live blocks.
func (c *Context) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.blocks.len()
}

// Destroy writes the leak report and releases every block still live.
// The context must not be used afterwards.
func (c *Context) Destroy() error {
	c.lock.Lock()
	if c.destroyed {
		c.lock.Unlock()
		return ErrDestroyed
	}
	c.destroyed = true
	leaked := c.blocks.len() > 0
	c.lock.Unlock()

	if !Enabled {
		return nil
	}
	return c.outputMemoryInfo(leaked)
}

// outputMemoryInfo writes the report to the leak log, or the console if the
// log cannot be created, then force-frees the remaining blocks.
func (c *Context) outputMemoryInfo(leaked bool) (err error) {
	dest := c.leakLog
	f, ferr := os.Create(c.leakLog)
	if ferr != nil {
		c.logger.Error().Err(ferr).Msgf("cannot open leak log %s, writing to console", c.leakLog)
		dest = "console"
	}
	if leaked {
		c.logger.Warn().Str("report", dest).Msg("memory leak detected, see report for details")
	}
	if f == nil {
		err = c.WriteReport(c.console)
	} else {
		err = c.WriteReport(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	c.releaseAll()
	return
}
