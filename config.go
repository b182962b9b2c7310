package memtrack

import (
	"io"
	"os"
	"sync"

	"github.com/phuslu/log"
)

const (
	DefaultLeakLog     = "memdynamic.log"
	DefaultOutputLimit = 1024
)

// Options toggles optional diagnostics.
type Options uint32

const (
	TraceOps    Options = 1 << iota // log every allocate/free/reallocate
	TraceChecks                     // log each validation step
)

type Config struct {
	// Allocator serves the real memory. Defaults to MemAllocator.
	Allocator Allocator
	// Locker guards the context. Defaults to a sync.Mutex.
	Locker sync.Locker
	Logger *log.Logger
	// LeakLog is the file the leak report is written to on Destroy.
	LeakLog string
	// Console receives the report when LeakLog cannot be opened.
	Console io.Writer
	// OutputLimit caps the payload bytes dumped per leaked block.
	OutputLimit int
	Options     Options
}

func (config Config) withDefaults() Config {
	if config.Allocator == nil {
		config.Allocator = MemAllocator{}
	}
	if config.Locker == nil {
		config.Locker = &sync.Mutex{}
	}
	if config.Logger == nil {
		config.Logger = &log.DefaultLogger
	}
	if config.LeakLog == "" {
		config.LeakLog = DefaultLeakLog
	}
	if config.Console == nil {
		config.Console = os.Stdout
	}
	if config.OutputLimit <= 0 {
		config.OutputLimit = DefaultOutputLimit
	}
	return config
}
