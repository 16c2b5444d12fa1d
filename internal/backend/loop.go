package backend

import "sync"

// loop serializes all backend work on one goroutine.
type loop struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	// Tasks scheduled by the running task; only touched by the loop goroutine.
	deferred []func()
}

func newLoop() *loop {
	l := &loop{
		tasks: make(chan func(), 64),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) run() {
	defer close(l.done)
	for {
		select {
		case f := <-l.tasks:
			l.exec(f)
		case <-l.quit:
			return
		}
	}
}

func (l *loop) exec(f func()) {
	f()
	for len(l.deferred) > 0 {
		next := l.deferred[0]
		l.deferred = l.deferred[1:]
		next()
	}
}

// post queues f. It returns false once the loop is stopped.
func (l *loop) post(f func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- f:
		return true
	case <-l.quit:
		return false
	}
}

// call runs f on the loop and waits for it. Must not be used from the loop
// goroutine itself.
func (l *loop) call(f func()) bool {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		f()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// later runs f after the current task returns. Loop goroutine only.
func (l *loop) later(f func()) {
	l.deferred = append(l.deferred, f)
}

func (l *loop) stop() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}
