package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/queue"
)

// SendPool runs several consumers of the transport job queue, each handing
// jobs to the same handler.
type SendPool struct {
	consumer   queue.Consumer
	handler    queue.Handler
	numWorkers int
	log        *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	handled int64
	failed  int64
}

// NewSendPool creates a pool of numWorkers consumers.
func NewSendPool(consumer queue.Consumer, handler queue.Handler, numWorkers int) *SendPool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &SendPool{
		consumer:   consumer,
		handler:    handler,
		numWorkers: numWorkers,
		log:        logger.New("send_pool"),
	}
}

// Start launches the consumers. Calling Start on a running pool is a no-op.
func (p *SendPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.log.Info("starting", "workers", p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop cancels the consumers and waits for in-flight jobs to finish.
func (p *SendPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("stopped", "handled", atomic.LoadInt64(&p.handled), "failed", atomic.LoadInt64(&p.failed))
}

// Stats returns current statistics
func (p *SendPool) Stats() map[string]int64 {
	return map[string]int64{
		"handled": atomic.LoadInt64(&p.handled),
		"failed":  atomic.LoadInt64(&p.failed),
	}
}

func (p *SendPool) run(ctx context.Context, n int) {
	defer p.wg.Done()

	err := p.consumer.Consume(ctx, func(ctx context.Context, job *domain.TransportJob) error {
		// An in-flight job finishes even when the pool is stopping.
		err := p.handler(context.WithoutCancel(ctx), job)
		atomic.AddInt64(&p.handled, 1)
		if err != nil {
			atomic.AddInt64(&p.failed, 1)
		}
		return err
	})
	if err != nil {
		p.log.Error("consumer exited", "worker", n, "error", err)
	}
}
