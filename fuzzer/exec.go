// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/maruel/panicparse/stack"

	"github.com/bradleyjkemp/fuzzcheck/artifact"
	"github.com/bradleyjkemp/fuzzcheck/coverage"
)

// execution is what one run of the target produced.
type execution struct {
	status Status
	kind   artifact.Kind
	// signal is set when the run was cut short. The target may still be
	// running, so the session has to end.
	signal    Signal
	features  []coverage.Feature
	elapsed   time.Duration
	panic     any
	signature string
}

func (e execution) hard() bool { return e.signal != noSignal }

type recorder interface {
	SetRecording(on bool)
}

func (f *Fuzzer[T]) setRecording(on bool) {
	if r, ok := f.sensor.(recorder); ok {
		r.SetRecording(on)
	}
}

// run executes the target on u in its own goroutine and waits for it to
// return or for a signal that ends the run.
func (f *Fuzzer[T]) run(u T) execution {
	type outcome struct {
		ok        bool
		recovered any
		stack     []byte
	}
	done := make(chan outcome, 1)

	f.sensor.Reset()
	f.setRecording(true)
	f.runSeq.Add(1)
	start := time.Now()
	f.runStart.Store(start.UnixNano())
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{recovered: r, stack: debug.Stack()}
			}
		}()
		done <- outcome{ok: f.target(u)}
	}()

	var ex execution
wait:
	for {
		select {
		case o := <-done:
			switch {
			case o.recovered != nil:
				ex.status, ex.kind = Crash, artifact.KindCrash
				ex.panic = o.recovered
				ex.signature = crashSignature(o.recovered, o.stack)
			case !o.ok:
				ex.status, ex.kind = TestFailure, artifact.KindCrash
			}
			break wait
		case s := <-f.signals:
			switch s {
			case SignalInterrupt:
				// Let the run finish.
				f.interrupted = true
				continue
			case SignalTimeout:
				if time.Since(start) < f.settings.IterationTimeout {
					// Posted for an earlier run.
					continue
				}
				ex.status, ex.kind = Crash, artifact.KindTimeout
			case SignalFault:
				ex.status, ex.kind = Crash, artifact.KindCrash
			default:
				ex.status = UnknownSignal
			}
			ex.signal = s
			break wait
		}
	}
	ex.elapsed = time.Since(start)
	f.runStart.Store(0)
	f.setRecording(false)
	f.runs++
	ex.features = coverage.Collect(f.sensor)
	return ex
}

const fuzzerPkg = "fuzzcheck/fuzzer."

// crashSignature condenses a recovered panic into the panicking source line
// followed by the calling functions up to the fuzzer. Crashes with the same
// signature are most likely the same bug.
func crashSignature(value any, trace []byte) string {
	dump := fmt.Sprintf("panic: %v\n\n%s", value, trace)
	ctx, err := stack.ParseDump(strings.NewReader(dump), io.Discard, false)
	if err != nil || ctx == nil {
		return fmt.Sprint(value)
	}
	for _, gr := range ctx.Goroutines {
		if !gr.First {
			continue
		}
		var sig []string
		for _, c := range gr.Stack.Calls {
			raw := c.Func.Raw
			internal := strings.HasPrefix(raw, "runtime.") || strings.HasPrefix(raw, "runtime/debug.")
			if len(sig) == 0 {
				if internal || strings.Contains(raw, fuzzerPkg) {
					continue
				}
				sig = append(sig, c.FullSrcLine())
				continue
			}
			if strings.Contains(raw, fuzzerPkg) {
				// no longer in the tested code
				break
			}
			sig = append(sig, c.Func.PkgDotName())
		}
		if len(sig) > 0 {
			return strings.Join(sig, "\n")
		}
	}
	return fmt.Sprint(value)
}
