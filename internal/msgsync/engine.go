package msgsync

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"dm-service/internal/models"
	"dm-service/internal/push"
)

var (
	// ErrEmptyContent rejects sends with no visible content.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrContentTooLong rejects sends above the store's content bound.
	ErrContentTooLong = errors.New("message content is too long")
	// ErrClosed is returned once the engine's event loop has stopped.
	ErrClosed = errors.New("sync engine closed")
)

// Loader fetches the durable conversation history, oldest-first.
type Loader interface {
	History(ctx context.Context, partnerID int) ([]models.Message, error)
}

// Sender persists a new message and returns the durable result with the
// client token echoed.
type Sender interface {
	Send(ctx context.Context, receiverID int, content, clientToken string) (models.Message, error)
}

// Engine drives the View of one open conversation. All state transitions run
// on a single event loop, so the View is never mutated concurrently, yet the
// reconciliation stays correct for any relative order of write confirmations
// and push events. In-flight sends overlap freely: each send resolves on its
// own network round trip and posts its outcome back to the loop.
//
// The push subscription is released when Run returns, on every exit path.
type Engine struct {
	view   *View
	loader Loader
	sender Sender
	sub    push.Subscription

	cmds    chan func()
	refresh chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewEngine wires an engine for the conversation between selfID and
// partnerID. The subscription must already be bound to that conversation's
// topic; the engine owns it from here on.
func NewEngine(selfID, partnerID int, loader Loader, sender Sender, sub push.Subscription) *Engine {
	return &Engine{
		view:    NewView(selfID, partnerID),
		loader:  loader,
		sender:  sender,
		sub:     sub,
		cmds:    make(chan func()),
		refresh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Run loads the history and then serves events until ctx is cancelled or
// Close is called. A failed history load leaves the sequence empty and the
// loop running: the view stays usable through sends, pushes and Reload.
func (e *Engine) Run(ctx context.Context) error {
	defer e.Close()
	defer e.sub.Close()

	if err := e.loadHistory(ctx); err != nil {
		log.Printf("msgsync: history load failed: %v", err)
	}
	e.signalRefresh()

	events := e.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case fn := <-e.cmds:
			fn()
		case ev, ok := <-events:
			if !ok {
				// Channel dropped. Non-fatal: local sends and manual
				// reloads keep the view alive.
				events = nil
				continue
			}
			if ev.Type != push.EventNewMessage {
				continue
			}
			e.view.ReceivePush(ev.Message)
			e.signalRefresh()
		}
	}
}

// Close stops the event loop. Safe to call from any goroutine, repeatedly.
func (e *Engine) Close() {
	e.once.Do(func() { close(e.done) })
}

// Send validates the content, appends an optimistic entry immediately and
// kicks off the store write in the background. It returns the local id of
// the optimistic entry without waiting for the network.
func (e *Engine) Send(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if len(content) > models.MaxContentLength {
		return "", ErrContentTooLong
	}

	var opt Optimistic
	if err := e.do(func() { opt = e.view.SendLocal(content) }); err != nil {
		return "", err
	}
	e.signalRefresh()

	go func() {
		msg, err := e.sender.Send(ctx, e.view.PartnerID(), content, opt.LocalID)
		if err != nil {
			log.Printf("msgsync: send failed, rolling back optimistic entry: %v", err)
			_ = e.do(func() { e.view.FailSend(opt.LocalID) })
			e.signalRefresh()
			return
		}
		_ = e.do(func() { e.view.ConfirmSend(opt.LocalID, msg) })
		e.signalRefresh()
	}()

	return opt.LocalID, nil
}

// Reload refetches the durable history, replacing the sequence.
func (e *Engine) Reload(ctx context.Context) error {
	var loadErr error
	if err := e.do(func() { loadErr = e.loadHistory(ctx) }); err != nil {
		return err
	}
	e.signalRefresh()
	return loadErr
}

// Snapshot returns a copy of the current sequence. It returns nil once the
// engine has stopped.
func (e *Engine) Snapshot() []Entry {
	var out []Entry
	if err := e.do(func() { out = e.view.Entries() }); err != nil {
		return nil
	}
	return out
}

// Refresh signals whenever the engine's underlying data may have changed:
// after loading, after a send resolves either way, after a push. The
// conversation summary list listens here to re-fetch its unread badges.
// Signals coalesce; a slow listener sees at least one.
func (e *Engine) Refresh() <-chan struct{} { return e.refresh }

// loadHistory runs on the event loop.
func (e *Engine) loadHistory(ctx context.Context) error {
	msgs, err := e.loader.History(ctx, e.view.PartnerID())
	if err != nil {
		e.view.ReplaceHistory(nil)
		return err
	}
	e.view.ReplaceHistory(msgs)
	return nil
}

// do executes fn on the event loop and waits for it.
func (e *Engine) do(fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		fn()
		close(ran)
	}
	select {
	case e.cmds <- wrapped:
	case <-e.done:
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-e.done:
		return ErrClosed
	}
}

func (e *Engine) signalRefresh() {
	select {
	case e.refresh <- struct{}{}:
	default:
	}
}
