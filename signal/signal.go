// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Heavily inspired by https://github.com/btcsuite/btcd/blob/master/signal.go
// Copyright (C) 2015-2017 The Lightning Network Developers

package signal

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// ErrAlreadyIntercepting is returned by Intercept while another Interceptor
// is still running.
var ErrAlreadyIntercepting = errors.New("intercept already started")

// active is set while an Interceptor owns the process signals.
var active atomic.Bool

// shutdownSignals are the signals that start a graceful shutdown.
var shutdownSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

// Interceptor turns interrupt signals and programmatic shutdown requests into
// a single shutdown notification.
type Interceptor struct {
	signals chan os.Signal

	// requests carries shutdown requests from RequestShutdown.
	requests chan struct{}

	// quit is closed once the first shutdown trigger is seen.
	quit     chan struct{}
	quitOnce *sync.Once

	// done is closed after the handler has stopped listening.
	done chan struct{}
}

// Intercept starts listening for shutdown signals. Only one Interceptor may
// run at a time.
func Intercept() (Interceptor, error) {
	if !active.CompareAndSwap(false, true) {
		return Interceptor{}, ErrAlreadyIntercepting
	}

	c := Interceptor{
		signals:  make(chan os.Signal, 1),
		requests: make(chan struct{}),
		quit:     make(chan struct{}),
		quitOnce: &sync.Once{},
		done:     make(chan struct{}),
	}
	signal.Notify(c.signals, shutdownSignals...)

	go c.handleSignals()

	return c, nil
}

// handleSignals waits for the first shutdown trigger, then releases the
// process signals and closes the shutdown channel. Triggers arriving after
// the first are only logged.
//
// NOTE: MUST be run as a goroutine.
func (c Interceptor) handleSignals() {
	defer active.Store(false)

	for {
		select {
		case sig := <-c.signals:
			log.Infof("Received %v", sig)
			c.beginShutdown()

		case <-c.requests:
			log.Infof("Received shutdown request.")
			c.beginShutdown()

		case <-c.quit:
			log.Infof("Gracefully shutting down.")
			signal.Stop(c.signals)
			close(c.done)

			return
		}
	}
}

func (c Interceptor) beginShutdown() {
	started := false
	c.quitOnce.Do(func() {
		started = true
		close(c.quit)
	})

	if started {
		log.Infof("Shutting down...")
	} else {
		log.Infof("Already shutting down...")
	}
}

// Listening returns true while this Interceptor owns the process signals and
// has not begun shutting down.
func (c Interceptor) Listening() bool {
	return active.Load() && c.Alive()
}

// Alive returns true until a shutdown has been triggered.
func (c Interceptor) Alive() bool {
	select {
	case <-c.quit:
		return false
	default:
		return true
	}
}

// RequestShutdown triggers a graceful shutdown as if an interrupt had been
// received.
func (c Interceptor) RequestShutdown() {
	select {
	case c.requests <- struct{}{}:
	case <-c.quit:
	}
}

// ShutdownChannel returns a channel that is closed once the shutdown has been
// handled.
func (c Interceptor) ShutdownChannel() <-chan struct{} {
	return c.done
}

// Context returns a child of parent that is cancelled on shutdown.
func (c Interceptor) Context(parent context.Context) (context.Context,
	context.CancelFunc) {

	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
