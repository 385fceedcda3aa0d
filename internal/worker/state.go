package worker

import "context"

type task struct {
	ctx  context.Context
	fn   func(context.Context)
	done chan error
}

// workerState is the queue owned by one record's writer goroutine.
type workerState struct {
	taskCh chan task
	stopCh chan struct{}
}

func newWorkerState(queueSize int) *workerState {
	return &workerState{
		taskCh: make(chan task, queueSize),
		stopCh: make(chan struct{}),
	}
}

// drain fails every task still queued.
func (s *workerState) drain(err error) {
	for {
		select {
		case t := <-s.taskCh:
			t.done <- err
		default:
			return
		}
	}
}
