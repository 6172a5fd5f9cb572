// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
)

// Signal is an asynchronous event the driver reacts to between or during runs.
type Signal int

const (
	noSignal Signal = iota
	SignalInterrupt
	SignalFault
	SignalTimeout
	SignalUnknown
)

func (s Signal) String() string {
	switch s {
	case noSignal:
		return "none"
	case SignalInterrupt:
		return "interrupt"
	case SignalFault:
		return "fault"
	case SignalTimeout:
		return "timeout"
	case SignalUnknown:
		return "unknown"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// Post queues s for the driver. It never blocks; when the queue is full the
// signal is dropped, since an earlier one already stops the session.
func (f *Fuzzer[T]) Post(s Signal) {
	select {
	case f.signals <- s:
	default:
	}
}

// Listen forwards OS signals to the driver until ctx is done.
func (f *Fuzzer[T]) Listen(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, watchedSignals...)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				s := classify(sig)
				f.log.Debug("received signal", zap.Stringer("os_signal", sig), zap.Stringer("signal", s))
				f.Post(s)
			}
		}
	}()
}

// watchHangs posts SignalTimeout once for every run that exceeds the
// iteration timeout.
func (f *Fuzzer[T]) watchHangs(ctx context.Context) {
	timeout := f.settings.IterationTimeout
	period := timeout / 4
	if period < 10*time.Millisecond {
		period = 10 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	var flagged uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		start := f.runStart.Load()
		seq := f.runSeq.Load()
		if start == 0 || seq == flagged {
			continue
		}
		if time.Since(time.Unix(0, start)) > timeout {
			flagged = seq
			f.Post(SignalTimeout)
		}
	}
}
