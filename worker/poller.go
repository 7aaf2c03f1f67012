package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

// PollFunc performs one fetch for the session. It returns done=true when
// polling should stop: either items arrived or the error was terminal.
// The ctx passed in is the per-session context; implementations must
// check it before applying results so a cancelled session never mutates
// state after teardown.
type PollFunc func(ctx context.Context, sessionId string) (done bool)

// SessionPoller owns one polling goroutine per picker session, keyed by
// session id with a cancel func. Stopping is idempotent: once a session
// is cancelled, later Stop calls and in-flight ticks are no-ops.
type SessionPoller struct {
	mu                 sync.Mutex
	cancels            map[string]context.CancelFunc
	tickerMilliseconds int
}

func NewSessionPoller(tickerMilliseconds int) *SessionPoller {
	return &SessionPoller{
		cancels:            make(map[string]context.CancelFunc),
		tickerMilliseconds: tickerMilliseconds,
	}
}

// Start begins polling the session. A second Start for the same session
// id replaces the previous goroutine.
func (p *SessionPoller) Start(shutdownCtx context.Context, sessionId string, poll PollFunc) {
	ctx, cancel := context.WithCancel(shutdownCtx)

	p.mu.Lock()
	if prev, ok := p.cancels[sessionId]; ok {
		prev()
	}
	p.cancels[sessionId] = cancel
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Duration(p.tickerMilliseconds) * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if poll(ctx, sessionId) {
					p.Stop(sessionId)
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("Started poller for session %s", sessionId)
}

func (p *SessionPoller) Stop(sessionId string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cancel, ok := p.cancels[sessionId]; ok {
		cancel()
		delete(p.cancels, sessionId)
		log.Printf("Stopped poller for session %s", sessionId)
	}
}

// Active reports whether a poller goroutine is registered for the session.
func (p *SessionPoller) Active(sessionId string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.cancels[sessionId]
	return ok
}

func (p *SessionPoller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for sessionId, cancel := range p.cancels {
		cancel()
		delete(p.cancels, sessionId)
	}
}
