package distributor

import (
	"sync"
)

// WorkerPool 有界 worker 池 + 有界任务队列
// 队列满时采用 caller-runs 策略：提交方自己执行任务，
// 形成对上游的节流，而不是无界排队或静默丢弃
type WorkerPool struct {
	jobs    chan func()
	wg      sync.WaitGroup
	stopped sync.Once
}

// NewWorkerPool 创建并启动 worker 池
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	p := &WorkerPool{
		jobs: make(chan func(), queueSize),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}

	return p
}

// Submit 提交任务
// 队列有空位时入队，否则由调用方同步执行（caller-runs）
func (p *WorkerPool) Submit(job func()) {
	select {
	case p.jobs <- job:
	default:
		job()
	}
}

// Stop 停止接收新任务并等待在途任务完成
func (p *WorkerPool) Stop() {
	p.stopped.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}
