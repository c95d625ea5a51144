package broadcast

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
)

const messageBufferSize = 16

type clientWriter struct {
	stream       Stream
	clock        clockwork.Clock
	pingInterval time.Duration
	backlog      []domain.Event
	sendChannel  chan domain.Event
	doneChannel  chan struct{}
	exited       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func newClientWriter(stream Stream, clock clockwork.Clock, pingInterval time.Duration, backlog []domain.Event) *clientWriter {
	cw := &clientWriter{
		stream:       stream,
		clock:        clock,
		pingInterval: pingInterval,
		backlog:      backlog,
		sendChannel:  make(chan domain.Event, messageBufferSize),
		doneChannel:  make(chan struct{}),
		exited:       make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()
	defer close(cw.exited)

	for _, ev := range cw.backlog {
		if err := cw.stream.WriteEvent(ev); err != nil {
			return
		}
	}
	cw.backlog = nil

	ticker := cw.clock.NewTicker(cw.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-cw.sendChannel:
			if err := cw.stream.WriteEvent(ev); err != nil {
				return
			}
		case <-ticker.Chan():
			if err := cw.stream.Ping(); err != nil {
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// enqueue reports false when the client's queue is full.
func (cw *clientWriter) enqueue(ev domain.Event) bool {
	select {
	case cw.sendChannel <- ev:
		return true
	default:
		return false
	}
}

// stop closes the stream first so a write blocked on a stalled client
// returns, then waits for the writer goroutine.
func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.stream.Close()
	})
	cw.wg.Wait()
}
