package server

import (
	"sync"
	"time"
)

type livenessState int

const (
	stateAlive livenessState = iota
	statePending
	stateDead
)

func (s livenessState) String() string {
	switch s {
	case stateAlive:
		return "alive"
	case statePending:
		return "pending-check"
	default:
		return "dead"
	}
}

// heartbeat probes one connection every interval and declares it dead when
// a probe is not acknowledged within deadline. At most one deadline timer is
// armed at a time. stop releases both the probe ticker and the deadline
// timer and is safe to call from any exit path, any number of times.
type heartbeat struct {
	interval time.Duration
	deadline time.Duration
	probe    func() error
	onDead   func()

	mu      sync.Mutex
	state   livenessState
	ticker  *time.Ticker
	timer   *time.Timer
	seq     uint64
	quit    chan struct{}
	stopped sync.Once
}

func newHeartbeat(cfg LivenessConfig, probe func() error, onDead func()) *heartbeat {
	return &heartbeat{
		interval: cfg.PingInterval,
		deadline: cfg.PongDeadline,
		probe:    probe,
		onDead:   onDead,
		quit:     make(chan struct{}),
	}
}

// start begins the probe cycle.
func (hb *heartbeat) start() {
	hb.mu.Lock()
	if hb.state == stateDead || hb.ticker != nil {
		hb.mu.Unlock()
		return
	}
	t := time.NewTicker(hb.interval)
	hb.ticker = t
	hb.mu.Unlock()

	go func() {
		for {
			select {
			case <-hb.quit:
				return
			case <-t.C:
				hb.fire()
			}
		}
	}()
}

func (hb *heartbeat) fire() {
	hb.mu.Lock()
	if hb.state != stateAlive {
		// dead, or the previous probe is still awaiting its answer
		hb.mu.Unlock()
		return
	}
	hb.state = statePending
	hb.seq++
	seq := hb.seq
	hb.timer = time.AfterFunc(hb.deadline, func() { hb.expire(seq) })
	hb.mu.Unlock()

	if err := hb.probe(); err != nil {
		hb.expire(seq)
	}
}

// ack records a probe response.
func (hb *heartbeat) ack() {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if hb.state != statePending {
		return
	}
	hb.timer.Stop()
	hb.timer = nil
	hb.state = stateAlive
}

func (hb *heartbeat) expire(seq uint64) {
	hb.mu.Lock()
	if hb.state != statePending || seq != hb.seq {
		hb.mu.Unlock()
		return
	}
	hb.release()
	hb.mu.Unlock()

	hb.onDead()
}

// stop cancels the probe cycle and any armed deadline.
func (hb *heartbeat) stop() {
	hb.mu.Lock()
	hb.release()
	hb.mu.Unlock()
}

// release must be called with mu held.
func (hb *heartbeat) release() {
	hb.state = stateDead
	if hb.timer != nil {
		hb.timer.Stop()
		hb.timer = nil
	}
	if hb.ticker != nil {
		hb.ticker.Stop()
	}
	hb.stopped.Do(func() { close(hb.quit) })
}

// status reports the liveness state and whether the probe ticker and the
// deadline timer are still active.
func (hb *heartbeat) status() (state livenessState, probing, deadlineArmed bool) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	probing = hb.ticker != nil && hb.state != stateDead
	return hb.state, probing, hb.timer != nil
}
