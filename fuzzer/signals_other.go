// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build !unix

package fuzzer

import "os"

var watchedSignals = []os.Signal{os.Interrupt}

func classify(sig os.Signal) Signal {
	if sig == os.Interrupt {
		return SignalInterrupt
	}
	return SignalUnknown
}
