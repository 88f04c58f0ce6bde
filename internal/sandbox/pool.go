package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dontdude/javabox/internal/domain"
	"github.com/dontdude/javabox/internal/metrics"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("sandbox pool closed")

const (
	defaultSourceDir   = "src"
	defaultNamePrefix  = "javabox"
	defaultSeedTimeout = 30 * time.Second
	disposeTimeout     = 30 * time.Second
)

// Seed describes how a fresh sandbox of one flavor is prepared before use.
type Seed struct {
	// Dir receives Files, relative to the sandbox work dir.
	Dir   string
	Files []domain.File
	// Commands run in order after the files are in place; each must exit 0.
	Commands [][]string
}

// Options configures a Pool.
type Options struct {
	// Capacity is the maximum number of idle sandboxes kept per flavor.
	Capacity map[domain.Flavor]int
	Seeds    map[domain.Flavor]Seed
	// SourceDir receives request payloads, relative to the sandbox work dir.
	SourceDir   string
	NamePrefix  string
	SeedTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Collector
}

// Pool hands out sandboxes per flavor and disposes of them after use.
// Acquire and Release are safe for concurrent use.
type Pool struct {
	runtime domain.Runtime
	runner  *Runner
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	idle    map[domain.Flavor][]*Sandbox
	pending map[domain.Flavor]int
	holders map[string]string
	closed  bool

	// wg tracks background disposal and replenishment.
	wg sync.WaitGroup
}

// NewPool creates an empty pool. Call Warmup to pre-provision idle sandboxes.
func NewPool(rt domain.Runtime, runner *Runner, opts Options) *Pool {
	if opts.SourceDir == "" {
		opts.SourceDir = defaultSourceDir
	}
	if opts.NamePrefix == "" {
		opts.NamePrefix = defaultNamePrefix
	}
	if opts.SeedTimeout <= 0 {
		opts.SeedTimeout = defaultSeedTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Pool{
		runtime: rt,
		runner:  runner,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		idle:    make(map[domain.Flavor][]*Sandbox),
		pending: make(map[domain.Flavor]int),
		holders: make(map[string]string),
	}
}

// Acquire returns a sandbox of the given flavor holding payload in the source dir.
// It reuses an idle sandbox when one is available and provisions a new one otherwise.
// On error nothing is left for the caller to clean up.
func (p *Pool) Acquire(ctx context.Context, flavor domain.Flavor, requestID string, payload []domain.File) (*Sandbox, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	sb := p.popIdleLocked(flavor)
	if sb != nil {
		if err := p.holdLocked(sb, requestID); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	p.mu.Unlock()

	if sb == nil {
		var err error
		sb, err = p.provision(ctx, flavor)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		err = p.holdLocked(sb, requestID)
		p.mu.Unlock()
		if err != nil {
			p.dispose(sb, "hold_conflict")
			return nil, err
		}
	}

	if err := p.runtime.PutFiles(ctx, sb.RuntimeID, p.opts.SourceDir, payload); err != nil {
		p.mu.Lock()
		p.releaseLocked(sb)
		p.mu.Unlock()
		p.dispose(sb, "inject_failed")
		return nil, fmt.Errorf("inject sources into %s: %w", sb.RuntimeID, err)
	}

	p.logger.Debug("Sandbox acquired", "runtimeID", sb.RuntimeID, "flavor", flavor, "requestID", requestID)
	return sb, nil
}

// Release gives a sandbox back after a completed run. The used instance is always
// destroyed; if the idle list of its flavor is below capacity a fresh replacement
// is provisioned in the background. Tainted sandboxes are discarded.
func (p *Pool) Release(sb *Sandbox) {
	if sb.Tainted() {
		p.Discard(sb, "tainted")
		return
	}

	p.mu.Lock()
	p.releaseLocked(sb)
	replace := !p.closed && len(p.idle[sb.Flavor])+p.pending[sb.Flavor] < p.capacity(sb.Flavor)
	if replace {
		p.pending[sb.Flavor]++
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.dispose(sb, "recycled")
		if replace {
			p.replenish(sb.Flavor)
		}
	}()
}

// Discard destroys a sandbox without replacing it. Used after timeouts and runtime errors.
func (p *Pool) Discard(sb *Sandbox, reason string) {
	p.mu.Lock()
	p.releaseLocked(sb)
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.dispose(sb, reason)
	}()
}

// Warmup provisions sandboxes until every idle list is at capacity.
func (p *Pool) Warmup(ctx context.Context) error {
	missing := make(map[domain.Flavor]int)
	p.mu.Lock()
	for flavor, capacity := range p.opts.Capacity {
		if n := capacity - len(p.idle[flavor]) - p.pending[flavor]; n > 0 {
			missing[flavor] = n
			p.pending[flavor] += n
		}
	}
	p.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for flavor, n := range missing {
		for range n {
			g.Go(func() error {
				sb, err := p.provision(ctx, flavor)
				p.mu.Lock()
				p.pending[flavor]--
				if err != nil || p.closed {
					p.mu.Unlock()
					if sb != nil {
						p.dispose(sb, "shutdown")
					}
					return err
				}
				p.pushIdleLocked(sb)
				p.mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("warm up sandbox pool: %w", err)
	}
	p.logger.Info("Sandbox pool warmed up", "plain", p.Idle(domain.Plain), "junit", p.Idle(domain.JUnitCapable))
	return nil
}

// Sweep trims every idle list down to its capacity.
func (p *Pool) Sweep(ctx context.Context) {
	var excess []*Sandbox

	p.mu.Lock()
	for flavor, list := range p.idle {
		capacity := p.capacity(flavor)
		if len(list) <= capacity {
			continue
		}
		excess = append(excess, list[capacity:]...)
		p.idle[flavor] = list[:capacity]
		p.metrics.IdleSandboxes.WithLabelValues(flavor.String()).Set(float64(capacity))
	}
	p.mu.Unlock()

	if len(excess) > 0 {
		p.logger.Info("Sweeping excess idle sandboxes", "count", len(excess))
	}
	for _, sb := range excess {
		if ctx.Err() != nil {
			// Left to Close.
			p.mu.Lock()
			p.pushIdleLocked(sb)
			p.mu.Unlock()
			continue
		}
		p.dispose(sb, "swept")
	}
}

// Wait blocks until all background disposal and replenishment has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops handing out sandboxes, waits for background work and destroys every idle sandbox.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	var idle []*Sandbox
	for flavor, list := range p.idle {
		idle = append(idle, list...)
		delete(p.idle, flavor)
		p.metrics.IdleSandboxes.WithLabelValues(flavor.String()).Set(0)
	}
	p.mu.Unlock()

	for _, sb := range idle {
		p.dispose(sb, "shutdown")
	}
	p.logger.Info("Sandbox pool closed", "destroyed", len(idle))
}

// Idle returns the number of idle sandboxes of a flavor.
func (p *Pool) Idle(flavor domain.Flavor) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[flavor])
}

// Busy returns the number of sandboxes currently handed out.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.holders)
}

func (p *Pool) capacity(flavor domain.Flavor) int {
	return p.opts.Capacity[flavor]
}

func (p *Pool) popIdleLocked(flavor domain.Flavor) *Sandbox {
	list := p.idle[flavor]
	if len(list) == 0 {
		return nil
	}
	sb := list[len(list)-1]
	p.idle[flavor] = list[:len(list)-1]
	p.metrics.IdleSandboxes.WithLabelValues(flavor.String()).Set(float64(len(list) - 1))
	return sb
}

func (p *Pool) pushIdleLocked(sb *Sandbox) {
	sb.requestID = ""
	p.idle[sb.Flavor] = append(p.idle[sb.Flavor], sb)
	p.metrics.IdleSandboxes.WithLabelValues(sb.Flavor.String()).Set(float64(len(p.idle[sb.Flavor])))
}

// holdLocked records requestID as the only holder of sb.
func (p *Pool) holdLocked(sb *Sandbox, requestID string) error {
	if holder, ok := p.holders[sb.RuntimeID]; ok {
		return fmt.Errorf("sandbox %s already held by %s", sb.RuntimeID, holder)
	}
	p.holders[sb.RuntimeID] = requestID
	sb.requestID = requestID
	return nil
}

func (p *Pool) releaseLocked(sb *Sandbox) {
	delete(p.holders, sb.RuntimeID)
}

// replenish provisions one replacement sandbox for a slot reserved in pending.
func (p *Pool) replenish(flavor domain.Flavor) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.SeedTimeout+disposeTimeout)
	defer cancel()

	sb, err := p.provision(ctx, flavor)

	p.mu.Lock()
	p.pending[flavor]--
	if err != nil {
		p.mu.Unlock()
		p.logger.Error("Failed to replenish sandbox pool", "flavor", flavor, "error", err)
		return
	}
	if p.closed {
		p.mu.Unlock()
		p.dispose(sb, "shutdown")
		return
	}
	p.pushIdleLocked(sb)
	p.mu.Unlock()
}

// provision creates, starts and seeds a new sandbox. Partial instances are destroyed on failure.
func (p *Pool) provision(ctx context.Context, flavor domain.Flavor) (*Sandbox, error) {
	name := fmt.Sprintf("%s-%s-%s", p.opts.NamePrefix, flavor, uuid.NewString())

	id, err := p.runtime.Create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create %s sandbox: %w", flavor, err)
	}
	sb := &Sandbox{RuntimeID: id, Flavor: flavor}

	if err := p.runtime.Start(ctx, id); err != nil {
		p.dispose(sb, "provision_failed")
		return nil, fmt.Errorf("start sandbox %s: %w", id, err)
	}

	if seed, ok := p.opts.Seeds[flavor]; ok {
		if err := p.seed(ctx, sb, seed); err != nil {
			p.dispose(sb, "provision_failed")
			return nil, fmt.Errorf("seed sandbox %s: %w", id, err)
		}
	}

	p.metrics.SandboxesCreated.WithLabelValues(flavor.String()).Inc()
	p.logger.Debug("Sandbox provisioned", "runtimeID", id, "flavor", flavor)
	return sb, nil
}

func (p *Pool) seed(ctx context.Context, sb *Sandbox, seed Seed) error {
	if len(seed.Files) > 0 {
		if err := p.runtime.PutFiles(ctx, sb.RuntimeID, seed.Dir, seed.Files); err != nil {
			return fmt.Errorf("inject support files: %w", err)
		}
	}
	for _, cmd := range seed.Commands {
		out, err := p.runner.Run(ctx, cmd, sb, p.opts.SeedTimeout)
		if err != nil {
			return err
		}
		if !out.Succeeded() {
			return fmt.Errorf("seed command %v failed (timed out: %t): %s", cmd, out.TimedOut, out.Stderr)
		}
	}
	return nil
}

// dispose kills and removes the runtime instance. Errors are logged, not returned.
func (p *Pool) dispose(sb *Sandbox, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()

	if err := p.runtime.Kill(ctx, sb.RuntimeID); err != nil {
		p.logger.Debug("Kill failed, removing anyway", "runtimeID", sb.RuntimeID, "error", err)
	}
	if err := p.runtime.Remove(ctx, sb.RuntimeID); err != nil {
		p.logger.Error("Failed to remove sandbox", "runtimeID", sb.RuntimeID, "reason", reason, "error", err)
		return
	}
	p.metrics.SandboxesDisposed.WithLabelValues(reason).Inc()
	p.logger.Debug("Sandbox disposed", "runtimeID", sb.RuntimeID, "reason", reason)
}
