package server

import (
	"sync"
	"time"
)

// scheduledTask is the single timer handle a phase is allowed to hold. Each
// phase transition cancels the outgoing phase's task; a tick that was already
// queued when the cancel happened is discarded by the loop because it carries
// a stale task pointer.
type scheduledTask struct {
	stop chan struct{}
	once sync.Once
}

// Cancel stops the task. No fire callbacks run after Cancel returns, though
// an already-posted command may still be in the loop's queue.
func (t *scheduledTask) Cancel() {
	t.once.Do(func() { close(t.stop) })
}

// every runs fire at each interval tick until the task is cancelled.
func (s *Server) every(interval time.Duration, fire func(*scheduledTask)) *scheduledTask {
	task := &scheduledTask{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-task.stop:
				return
			case <-s.quit:
				return
			case <-ticker.C:
				fire(task)
			}
		}
	}()
	return task
}

// after runs fire exactly once after the delay unless cancelled first.
func (s *Server) after(delay time.Duration, fire func(*scheduledTask)) *scheduledTask {
	task := &scheduledTask{stop: make(chan struct{})}
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-task.stop:
		case <-s.quit:
		case <-timer.C:
			fire(task)
		}
	}()
	return task
}
