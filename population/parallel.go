package population

import "sync"

// workChunk is a range of batch indices for one worker.
type workChunk struct {
	start, end int
	fn         func(i int)
}

// workerPool runs CPU execution for a batch on persistent goroutines.
// Workers only read their job's snapshot and write their own outcome slot;
// outcomes are applied afterwards on the caller's goroutine.
type workerPool struct {
	numWorkers int

	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool
}

func newWorkerPool(numWorkers int) *workerPool {
	p := &workerPool{numWorkers: numWorkers}
	p.start()
	return p
}

// start launches persistent worker goroutines.
func (p *workerPool) start() {
	if p.running {
		return
	}
	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stop signals all workers to exit and waits for them.
func (p *workerPool) stop() {
	if !p.running {
		return
	}
	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			for i := chunk.start; i < chunk.end; i++ {
				chunk.fn(i)
			}
			p.doneChan <- struct{}{}
		}
	}
}

// run calls fn(i) for every i in [0, n) across the workers and returns
// when all calls have finished.
func (p *workerPool) run(n int, fn func(i int)) {
	if !p.running {
		p.start()
	}
	chunkSize := (n + p.numWorkers - 1) / p.numWorkers
	chunks := 0
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		p.workChan <- workChunk{start: start, end: end, fn: fn}
		chunks++
	}
	for range chunks {
		<-p.doneChan
	}
}
