package internal

import "sync"

// lanes runs jobs serially per key while different keys run in parallel.
// Each key gets a goroutine only while it has queued work.
type lanes struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string][]func())}
}

// submit never blocks; jobs for one key run in submission order.
func (l *lanes) submit(key string, job func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	queue, running := l.queues[key]
	l.queues[key] = append(queue, job)
	if !running {
		l.wg.Add(1)
		go l.drain(key)
	}
}

func (l *lanes) drain(key string) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		queue := l.queues[key]
		if len(queue) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		job := queue[0]
		queue[0] = nil
		l.queues[key] = queue[1:]
		l.mu.Unlock()
		job()
	}
}

// wait blocks until every queued job has run.
func (l *lanes) wait() {
	l.wg.Wait()
}
