package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is a snapshot of a polling worker's counters
type Status struct {
	Running   bool
	Ticks     int
	Failures  int
	LastTick  time.Time
	LastError string
}

// poller runs tick once on start and then every interval until stopped
type poller struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context) error
	logger   *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	ticks     int
	failures  int
	lastTick  time.Time
	lastError error
}

func (p *poller) start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return fmt.Errorf("%s already running", p.name)
	}

	var loopCtx context.Context
	loopCtx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.isRunning = true

	p.logger.Info(p.name+" started", zap.Duration("interval", p.interval))

	go p.pollLoop(loopCtx, p.done)
	return nil
}

func (p *poller) stop() error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.mu.RLock()
	p.logger.Info(p.name+" stopped",
		zap.Int("ticks", p.ticks),
		zap.Int("failures", p.failures))
	p.mu.RUnlock()
	return nil
}

func (p *poller) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runTick(ctx)
		}
	}
}

func (p *poller) runTick(ctx context.Context) {
	err := p.tick(ctx)

	p.mu.Lock()
	p.ticks++
	p.lastTick = time.Now()
	p.lastError = err
	if err != nil && ctx.Err() == nil {
		p.failures++
	}
	p.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		p.logger.Error(p.name+" tick failed", zap.Error(err))
	}
}

func (p *poller) status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Status{
		Running:  p.isRunning,
		Ticks:    p.ticks,
		Failures: p.failures,
		LastTick: p.lastTick,
	}
	if p.lastError != nil {
		s.LastError = p.lastError.Error()
	}
	return s
}
