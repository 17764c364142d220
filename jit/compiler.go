package jit

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/ilgen"
	"github.com/chazu/yarvil/telemetry"
	"github.com/chazu/yarvil/yarv"
)

// Compiler translates hot methods in the background. A method is compiled
// once, or twice with tiered compilation enabled, and never more.
type Compiler struct {
	cfg      *config.Config
	env      *ilgen.Env
	counters *telemetry.Counters

	// Compilation queue for background processing
	pending  chan *yarv.Iseq
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Compiled bodies per method name. inflight counts translations that
	// have reserved a slot but not finished.
	mu       sync.RWMutex
	bodies   map[string][]*Result
	inflight map[string]int

	// Statistics
	methodsCompiled uint64
	methodsFailed   uint64
	queueDropped    uint64
	compilationTime uint64 // nanoseconds

	// OnCompiled, when set, is called by the background worker after each
	// queued translation.
	OnCompiled func(iseq *yarv.Iseq, res *Result, err error)
}

// NewCompiler creates a compiler and starts its background worker. A nil
// cfg means defaults and a nil env the default environment.
func NewCompiler(cfg *config.Config, env *ilgen.Env, counters *telemetry.Counters) *Compiler {
	if cfg == nil {
		cfg = config.Default()
	}
	if env == nil {
		env = ilgen.NewEnv()
	}
	if counters == nil {
		counters = telemetry.NewCounters()
	}
	size := cfg.JIT.QueueSize
	if size <= 0 {
		size = config.DefaultQueueSize
	}
	c := &Compiler{
		cfg:      cfg,
		env:      env,
		counters: counters,
		pending:  make(chan *yarv.Iseq, size),
		done:     make(chan struct{}),
		bodies:   make(map[string][]*Result),
		inflight: make(map[string]int),
	}
	c.wg.Add(1)
	go c.compilationWorker()
	return c
}

// Attach makes p queue methods here when they become hot.
func (c *Compiler) Attach(p *Profiler) {
	p.OnHot = func(iseq *yarv.Iseq, _ *MethodProfile) {
		c.Queue(iseq)
	}
}

func (c *Compiler) limit() int {
	if c.cfg.JIT.TieredCompilation {
		return 2
	}
	return 1
}

// reserve claims a compilation slot for name.
func (c *Compiler) reserve(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies[name])+c.inflight[name] >= c.limit() {
		return false
	}
	c.inflight[name]++
	return true
}

func (c *Compiler) release(name string, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[name]--
	if c.inflight[name] == 0 {
		delete(c.inflight, name)
	}
	if res != nil {
		c.bodies[name] = append(c.bodies[name], res)
	}
}

// Compile translates iseq now. It returns ErrAlreadyCompiled once the
// method has no compilations left. Failed translations do not use one up.
func (c *Compiler) Compile(iseq *yarv.Iseq) (*Result, error) {
	name := iseq.Name()
	if !c.reserve(name) {
		log.Infof("%s already compiled %d times, not compiling again", name, c.limit())
		c.counters.Inc("compilation_refused/already_compiled")
		return nil, ErrAlreadyCompiled
	}

	start := time.Now()
	res, err := Translate(iseq, c.cfg, WithEnv(c.env), WithCounters(c.counters))
	atomic.AddUint64(&c.compilationTime, uint64(time.Since(start)))
	c.release(name, res)

	if err != nil {
		atomic.AddUint64(&c.methodsFailed, 1)
		return nil, err
	}
	atomic.AddUint64(&c.methodsCompiled, 1)
	log.Infof("compiled hot method %s", name)
	return res, nil
}

// Queue hands iseq to the background worker. It reports false when the
// queue is full, the compiler is stopped or the method needs no further
// compilation.
func (c *Compiler) Queue(iseq *yarv.Iseq) bool {
	if iseq == nil || c.Exhausted(iseq.Name()) {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.pending <- iseq:
		return true
	default:
		atomic.AddUint64(&c.queueDropped, 1)
		return false
	}
}

// compilationWorker processes the compilation queue in the background.
func (c *Compiler) compilationWorker() {
	defer c.wg.Done()
	for {
		select {
		case iseq := <-c.pending:
			res, err := c.Compile(iseq)
			if err != nil && !errors.Is(err, ErrAlreadyCompiled) {
				log.Warningf("background compilation of %s failed: %s", iseq.Name(), err)
			}
			if c.OnCompiled != nil {
				c.OnCompiled(iseq, res, err)
			}
		case <-c.done:
			return
		}
	}
}

// Exhausted reports whether name has used up its compilations.
func (c *Compiler) Exhausted(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bodies[name])+c.inflight[name] >= c.limit()
}

// Bodies returns the compiled bodies of name, oldest first.
func (c *Compiler) Bodies(name string) []*Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Result(nil), c.bodies[name]...)
}

// CompiledMethods returns the names of every compiled method.
func (c *Compiler) CompiledMethods() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.bodies))
	for key := range c.bodies {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Counters returns the counters translations accumulate into.
func (c *Compiler) Counters() *telemetry.Counters {
	return c.counters
}

// CompilerStats holds compiler statistics.
type CompilerStats struct {
	MethodsCompiled uint64
	MethodsFailed   uint64
	QueueDropped    uint64
	CompilationTime time.Duration
	CompiledCount   int
	QueueLength     int
}

// Stats returns compiler statistics.
func (c *Compiler) Stats() CompilerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CompilerStats{
		MethodsCompiled: atomic.LoadUint64(&c.methodsCompiled),
		MethodsFailed:   atomic.LoadUint64(&c.methodsFailed),
		QueueDropped:    atomic.LoadUint64(&c.queueDropped),
		CompilationTime: time.Duration(atomic.LoadUint64(&c.compilationTime)),
		CompiledCount:   len(c.bodies),
		QueueLength:     len(c.pending),
	}
}

// Stop stops the background worker and waits for it to exit. Queued
// methods that were not started are dropped.
func (c *Compiler) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

// Reset forgets every compiled body and clears statistics.
func (c *Compiler) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bodies = make(map[string][]*Result)
	atomic.StoreUint64(&c.methodsCompiled, 0)
	atomic.StoreUint64(&c.methodsFailed, 0)
	atomic.StoreUint64(&c.queueDropped, 0)
	atomic.StoreUint64(&c.compilationTime, 0)
}
