package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

type hostSlot struct {
	sem      *semaphore.Weighted
	inFlight int64     // held + waiting permits
	idleAt   time.Time // last release; zero if never released
}

// HostSemaphorePool caps concurrent requests per host.
// Share one pool between every site that may point at the same host.
type HostSemaphorePool struct {
	slots          map[string]*hostSlot
	mu             sync.Mutex
	perHost        int64
	acquireTimeout time.Duration // 0 waits for ctx only
	log            *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost concurrent permits per host.
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	perHost := int64(maxPerHost)
	if perHost <= 0 {
		perHost = 2
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", perHost)
	}
	return &HostSemaphorePool{
		slots:   make(map[string]*hostSlot),
		perHost: perHost,
		log:     log,
	}
}

// WithAcquireTimeout bounds how long Acquire waits for a permit.
func (p *HostSemaphorePool) WithAcquireTimeout(d time.Duration) *HostSemaphorePool {
	p.acquireTimeout = d
	return p
}

// Acquire takes one permit for host and returns the func that gives it back.
// The release func is safe to call more than once.
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) (func(), error) {
	p.mu.Lock()
	slot, ok := p.slots[host]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(p.perHost)}
		p.slots[host] = slot
		p.log.WithFields(logrus.Fields{"host": host, "limit": p.perHost}).Debug("Created host semaphore")
	}
	slot.inFlight++
	p.mu.Unlock()

	waitCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	if err := slot.sem.Acquire(waitCtx, 1); err != nil {
		p.mu.Lock()
		slot.inFlight--
		p.mu.Unlock()
		if ctx.Err() == nil {
			return nil, fmt.Errorf("%w: host %s after %v", utils.ErrSemaphoreTimeout, host, p.acquireTimeout)
		}
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { p.release(slot) }) }, nil
}

func (p *HostSemaphorePool) release(slot *hostSlot) {
	p.mu.Lock()
	slot.inFlight--
	slot.idleAt = time.Now()
	p.mu.Unlock()
	slot.sem.Release(1)
}

// RunEviction drops idle host slots every interval until ctx is done. Run it in a goroutine.
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictIdle(interval)
		case <-ctx.Done():
			p.log.Debugf("Stopping host semaphore eviction: %v", ctx.Err())
			return
		}
	}
}

func (p *HostSemaphorePool) evictIdle(maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	evicted := 0
	for host, slot := range p.slots {
		if slot.inFlight == 0 && !slot.idleAt.IsZero() && now.Sub(slot.idleAt) >= maxIdle {
			delete(p.slots, host)
			evicted++
		}
	}
	if evicted > 0 {
		p.log.Debugf("Evicted %d idle host semaphores, %d remain", evicted, len(p.slots))
	}
}

// Len returns the number of tracked hosts.
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
