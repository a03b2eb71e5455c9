package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lance13c/deltawatch/internal/logging"
)

const maxAcquireBackoff = 2 * time.Second

// PoolConfig bounds the pool
type PoolConfig struct {
	MaxBrowsers int
	IdleTimeout time.Duration
	MaxAge      time.Duration
	AcquirePoll time.Duration
}

// entry is the ownership record for one pooled browser process
type entry struct {
	inst      Instance
	inUse     bool
	lastUsed  time.Time
	createdAt time.Time
	proxy     string
	retire    bool
}

// Pool owns a bounded set of long-lived browser processes and hands out
// isolated browsing contexts on them
type Pool struct {
	mu        sync.Mutex
	cfg       PoolConfig
	launcher  Launcher
	options   OptionsSource
	entries   []*entry
	launching int
	closed    bool
	released  chan struct{}

	now func() time.Time
}

// PoolStats is a snapshot of pool occupancy
type PoolStats struct {
	Total     int
	InUse     int
	Launching int
}

// NewPool creates a pool. No browser is started until the first Acquire.
func NewPool(cfg PoolConfig, launcher Launcher, options OptionsSource) *Pool {
	if cfg.MaxBrowsers < 1 {
		cfg.MaxBrowsers = 1
	}
	if cfg.AcquirePoll <= 0 {
		cfg.AcquirePoll = 100 * time.Millisecond
	}
	if options == nil {
		options = func(context.Context) LaunchOptions { return LaunchOptions{Headless: true} }
	}
	return &Pool{
		cfg:      cfg,
		launcher: launcher,
		options:  options,
		released: make(chan struct{}),
		now:      time.Now,
	}
}

// Acquire returns a lease on an isolated browsing context. When every browser
// is busy and the pool is at capacity it waits for a release, polling with
// backoff, until ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	delay := p.cfg.AcquirePoll

	for {
		// Options are read per attempt so proxy changes reach the next launch
		opts := p.options(ctx)

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		stale := p.sweepLocked()
		stale = append(stale, p.retireProxyLocked(opts.Proxy)...)

		if e := p.idleLocked(); e != nil {
			e.inUse = true
			e.lastUsed = p.now()
			p.mu.Unlock()
			closeInstances(stale)
			return p.open(ctx, e)
		}

		if len(p.entries)+p.launching < p.cfg.MaxBrowsers {
			p.launching++
			p.mu.Unlock()
			closeInstances(stale)
			return p.launch(ctx, opts)
		}

		wake := p.released
		p.mu.Unlock()
		closeInstances(stale)

		logging.Debug("Browser pool saturated (%d browsers), waiting %v", p.cfg.MaxBrowsers, delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxAcquireBackoff {
			delay = maxAcquireBackoff
		}
	}
}

// launch starts a browser in a slot already reserved by Acquire
func (p *Pool) launch(ctx context.Context, opts LaunchOptions) (*Lease, error) {
	inst, err := p.launcher.Launch(ctx, opts)

	p.mu.Lock()
	p.launching--
	if err != nil {
		p.notifyLocked()
		p.mu.Unlock()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	if p.closed {
		p.notifyLocked()
		p.mu.Unlock()
		inst.Close()
		return nil, ErrPoolClosed
	}

	now := p.now()
	e := &entry{
		inst:      inst,
		inUse:     true,
		lastUsed:  now,
		createdAt: now,
		proxy:     opts.Proxy,
	}
	p.entries = append(p.entries, e)
	total := len(p.entries)
	p.mu.Unlock()

	logging.Info("Launched pooled browser (%d/%d)", total, p.cfg.MaxBrowsers)
	return p.open(ctx, e)
}

// open creates the isolated context for a reserved entry
func (p *Pool) open(ctx context.Context, e *entry) (*Lease, error) {
	bctx, err := e.inst.NewContext(ctx)
	if err != nil {
		p.discard(e)
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return &Lease{pool: p, entry: e, bctx: bctx}, nil
}

// release returns an entry to the idle set, or closes it if it is dead or retired
func (p *Pool) release(e *entry) {
	p.mu.Lock()
	e.inUse = false
	e.lastUsed = p.now()

	var stale []Instance
	if p.closed || e.retire || !e.inst.Alive() {
		if p.removeLocked(e) {
			stale = append(stale, e.inst)
		}
	}
	stale = append(stale, p.sweepLocked()...)
	p.notifyLocked()
	p.mu.Unlock()

	closeInstances(stale)
}

// discard drops an entry whose browser cannot serve contexts
func (p *Pool) discard(e *entry) {
	p.mu.Lock()
	removed := p.removeLocked(e)
	p.notifyLocked()
	p.mu.Unlock()

	if removed {
		e.inst.Close()
	}
}

// Sweep closes crashed, aged-out and idle browsers
func (p *Pool) Sweep() {
	p.mu.Lock()
	stale := p.sweepLocked()
	if len(stale) > 0 {
		p.notifyLocked()
	}
	p.mu.Unlock()

	closeInstances(stale)
}

// sweepLocked removes dead, aged and idle entries and returns the instances to close.
// An idle-timeout eviction never takes the pool down to zero browsers.
func (p *Pool) sweepLocked() []Instance {
	now := p.now()
	var stale []Instance
	kept := p.entries[:0]

	for _, e := range p.entries {
		switch {
		case !e.inst.Alive():
			if !e.retire {
				logging.Warn("Pooled browser lost its connection, removing it")
				e.retire = true
			}
			if !e.inUse {
				stale = append(stale, e.inst)
				continue
			}
		case e.inUse:
		case e.retire:
			stale = append(stale, e.inst)
			continue
		case p.cfg.MaxAge > 0 && now.Sub(e.createdAt) >= p.cfg.MaxAge:
			logging.Debug("Recycling browser after %v", now.Sub(e.createdAt).Round(time.Second))
			stale = append(stale, e.inst)
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so dropped entries can be collected
	for i := len(kept); i < len(p.entries); i++ {
		p.entries[i] = nil
	}
	p.entries = kept

	if p.cfg.IdleTimeout > 0 {
		kept = p.entries[:0]
		remaining := len(p.entries)
		for _, e := range p.entries {
			if !e.inUse && remaining > 1 && now.Sub(e.lastUsed) >= p.cfg.IdleTimeout {
				logging.Debug("Closing browser idle for %v", now.Sub(e.lastUsed).Round(time.Second))
				stale = append(stale, e.inst)
				remaining--
				continue
			}
			kept = append(kept, e)
		}
		for i := len(kept); i < len(p.entries); i++ {
			p.entries[i] = nil
		}
		p.entries = kept
	}

	return stale
}

// retireProxyLocked closes idle browsers launched with a different proxy and
// marks busy ones to be closed on release
func (p *Pool) retireProxyLocked(proxy string) []Instance {
	var stale []Instance
	kept := p.entries[:0]
	for _, e := range p.entries {
		if e.proxy != proxy {
			if !e.inUse {
				logging.Info("Proxy setting changed, retiring idle browser")
				stale = append(stale, e.inst)
				continue
			}
			e.retire = true
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(p.entries); i++ {
		p.entries[i] = nil
	}
	p.entries = kept
	return stale
}

func (p *Pool) idleLocked() *entry {
	for _, e := range p.entries {
		if !e.inUse && !e.retire && e.inst.Alive() {
			return e
		}
	}
	return nil
}

func (p *Pool) removeLocked(target *entry) bool {
	for i, e := range p.entries {
		if e == target {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return true
		}
	}
	return false
}

// notifyLocked wakes every waiter in Acquire and Shutdown
func (p *Pool) notifyLocked() {
	close(p.released)
	p.released = make(chan struct{})
}

// Stats returns current pool occupancy
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{Total: len(p.entries), Launching: p.launching}
	for _, e := range p.entries {
		if e.inUse {
			stats.InUse++
		}
	}
	return stats
}

// RunJanitor sweeps the pool every interval until ctx is done
func (p *Pool) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Shutdown stops new acquisitions, waits for outstanding leases until ctx is
// done, then closes every browser
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		p.mu.Lock()
		busy := p.launching
		for _, e := range p.entries {
			if e.inUse {
				busy++
			}
		}
		wake := p.released
		p.mu.Unlock()

		if busy == 0 {
			break
		}

		logging.Info("Waiting for %d browser lease(s) to be released", busy)
		select {
		case <-wake:
			continue
		case <-ctx.Done():
			logging.Warn("Shutdown deadline reached with %d lease(s) outstanding, force closing", busy)
		}
		break
	}

	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	var stale []Instance
	for _, e := range entries {
		stale = append(stale, e.inst)
	}
	closeInstances(stale)
	logging.Info("Browser pool shut down (%d browser(s) closed)", len(stale))
	return nil
}

func closeInstances(instances []Instance) {
	for _, inst := range instances {
		if err := inst.Close(); err != nil {
			logging.Debug("Error closing browser: %v", err)
		}
	}
}

// Lease is exclusive use of one browsing context. Release must be called exactly
// once; further calls are no-ops.
type Lease struct {
	pool  *Pool
	entry *entry
	bctx  BrowsingContext
	once  sync.Once
}

// NewPage opens a tab in the leased context
func (l *Lease) NewPage(ctx context.Context) (Page, error) {
	page, err := l.bctx.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return page, nil
}

// Release closes the browsing context and returns the browser to the pool
func (l *Lease) Release() {
	l.once.Do(func() {
		if err := l.bctx.Close(); err != nil {
			logging.Debug("Error closing browser context: %v", err)
		}
		l.pool.release(l.entry)
	})
}
