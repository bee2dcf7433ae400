package dbpool

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// janitor periodically sweeps the idle queue for expired connections and
// refills the pool toward MinSize. It runs on its own goroutine, started
// by New and stopped by Pool.Shutdown.
type janitor struct {
	pool   *Pool
	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
}

func newJanitor(p *Pool) *janitor {
	return &janitor{pool: p, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

func (j *janitor) start() {
	if j.pool.cfg.JanitorPeriod <= 0 {
		close(j.doneCh)
		return
	}
	j.ticker = time.NewTicker(j.pool.cfg.JanitorPeriod)
	go j.run()
}

func (j *janitor) run() {
	defer close(j.doneCh)
	for {
		select {
		case <-j.ticker.C:
			j.tick()
		case <-j.stopCh:
			j.ticker.Stop()
			return
		}
	}
}

func (j *janitor) stop() {
	select {
	case <-j.doneCh:
		return
	default:
	}
	close(j.stopCh)
	<-j.doneCh
}

// tick snapshots the idle queue's current size and examines exactly that
// many entries, so a connection re-enqueued mid-sweep is only seen again on
// the next tick, never the same one (bounds janitor work per tick and
// avoids starving foreground acquirers).
func (j *janitor) tick() {
	p := j.pool
	now := time.Now()

	n := int(p.idleCount.Load())
	for i := 0; i < n; i++ {
		proxy, ok := p.tryDequeueIdle()
		if !ok {
			break
		}
		p.idleCount.Add(-1)

		expired := (p.cfg.IdleTimeout > 0 && now.Sub(proxy.lastAccessTime()) > p.cfg.IdleTimeout) ||
			(p.cfg.MaxLifetime > 0 && now.Sub(proxy.creationTime) > p.cfg.MaxLifetime)

		if expired {
			p.total.Add(-1)
			if err := proxy.terminate(); err != nil {
				p.logger.Warn("janitor: terminating expired connection failed",
					zap.String("conn_id", proxy.id.String()), zap.Error(err))
			}
			if p.metrics != nil {
				p.metrics.evicted.Inc()
			}
			continue
		}

		select {
		case p.idle <- proxy:
			p.idleCount.Add(1)
		default:
			p.total.Add(-1)
			_ = proxy.terminate()
		}
	}

	if int(p.total.Load()) < p.cfg.MinSize {
		if err := p.tryGrow(context.Background()); err != nil {
			p.storeLatestErr(err)
			p.logger.Warn("janitor: refill to minSize failed", zap.Error(err))
		}
	}
}
