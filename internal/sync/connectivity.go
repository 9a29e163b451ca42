package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"attendance-sync-service/internal/logger"
)

const defaultProbeInterval = 15 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes the portal on an interval and publishes a Transition each
// time reachability flips. It assumes the portal is online until a probe
// says otherwise.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	now      func() time.Time

	online    atomic.Bool
	eventChan chan Transition
	sendMu    sync.RWMutex // guards eventChan against close during a send
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

func NewMonitor(p Pinger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		pinger:    p,
		interval:  interval,
		now:       time.Now,
		eventChan: make(chan Transition, 16),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.online.Store(true)
	return m
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

func (m *Monitor) Events() <-chan Transition {
	return m.eventChan
}

func (m *Monitor) Start() {
	logger.Log.Info("Starting connectivity monitor", zap.Duration("interval", m.interval))
	m.wg.Add(1)
	go m.run()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
		m.sendMu.Lock()
		close(m.eventChan)
		m.sendMu.Unlock()
		logger.Log.Info("Stopped connectivity monitor")
	})
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe()
	for {
		select {
		case <-ticker.C:
			m.Probe()
		case <-m.ctx.Done():
			return
		}
	}
}

// Probe pings the portal once and records the result.
func (m *Monitor) Probe() bool {
	ctx, cancel := context.WithTimeout(m.ctx, m.interval)
	defer cancel()

	err := m.pinger.Ping(ctx)
	if err != nil && m.ctx.Err() != nil {
		return m.Online()
	}
	if err != nil {
		logger.Log.Debug("Portal probe failed", zap.Error(err))
	}
	m.Set(err == nil)
	return err == nil
}

// Set records reachability, emitting a Transition when it changed. After Stop
// the state is still recorded but nothing is emitted.
func (m *Monitor) Set(online bool) {
	if !m.online.CompareAndSwap(!online, online) {
		return
	}
	t := Transition{Online: online, At: m.now()}
	logger.Log.Info("Connectivity changed", zap.Stringer("transition", t))

	m.sendMu.RLock()
	defer m.sendMu.RUnlock()
	if m.ctx.Err() != nil {
		return
	}
	select {
	case m.eventChan <- t:
	case <-m.ctx.Done():
	}
}
