package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/surrealdb/surrealmirror/pkg/logger"
)

// meter logs how many mutations were applied per interval.
type meter struct {
	interval time.Duration
	log      logger.Logger

	count atomic.Int64
	total atomic.Int64

	stop chan struct{}
	wg   sync.WaitGroup
}

func newMeter(interval time.Duration, log logger.Logger) *meter {
	return &meter{interval: interval, log: log, stop: make(chan struct{})}
}

func (m *meter) add() {
	m.count.Add(1)
	m.total.Add(1)
}

func (m *meter) start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-m.stop:
				return
			case now := <-ticker.C:
				m.report(now.Sub(last))
				last = now
			}
		}
	}()
}

func (m *meter) report(elapsed time.Duration) {
	n := m.count.Swap(0)
	args := []any{
		"events", n,
		"total", m.total.Load(),
		"interval", elapsed.Round(time.Millisecond).String(),
	}
	if n == 0 {
		m.log.Debug("throughput", args...)
		return
	}
	rate := float64(n) / elapsed.Seconds()
	m.log.Info("throughput", append(args, "per_second", rate)...)
}

// halt stops the ticker goroutine and waits for it.
func (m *meter) halt() {
	close(m.stop)
	m.wg.Wait()
}
