// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build unix

package fuzzer

import (
	"os"
	"syscall"
)

var watchedSignals = []os.Signal{
	syscall.SIGINT, syscall.SIGTERM,
	syscall.SIGABRT, syscall.SIGBUS, syscall.SIGFPE, syscall.SIGILL, syscall.SIGSEGV,
	syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2,
}

func classify(sig os.Signal) Signal {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		return SignalInterrupt
	case syscall.SIGABRT, syscall.SIGBUS, syscall.SIGFPE, syscall.SIGILL, syscall.SIGSEGV:
		return SignalFault
	}
	return SignalUnknown
}
