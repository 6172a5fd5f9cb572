// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// fuzzcheck is the front-end: it launches the fuzz binary named by -target
// and keeps relaunching it across failures until the work is done.
//
//	fuzzcheck fuzz -target ./fuzz-bin -artifact-folder ./artifacts
//	fuzzcheck minimize -target ./fuzz-bin -input-file ./artifacts/crash-1234.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/bradleyjkemp/fuzzcheck/config"
	"github.com/bradleyjkemp/fuzzcheck/logger"
	"github.com/bradleyjkemp/fuzzcheck/runner"
	"github.com/bradleyjkemp/fuzzcheck/supervisor"
)

func main() {
	cfg, err := config.Load("fuzzcheck", os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(runner.ExitConfig)
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newSupervisor,
		),
		fx.Invoke(supervise),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(runner.ExitConfig)
	}
	app.Run()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.LogLevel)
}

func newSupervisor(cfg *config.Config, log *zap.Logger) (*supervisor.Supervisor, error) {
	return supervisor.New(cfg, supervisor.DefaultOptions(), log)
}

// supervise runs the configured command in the background and shuts the app
// down with the last worker's exit code.
func supervise(lc fx.Lifecycle, sd fx.Shutdowner, sup *supervisor.Supervisor, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				code, err := sup.Run(ctx)
				if err != nil {
					log.Error("supervisor failed", zap.Error(err))
					code = runner.ExitConfig
				} else if supervisor.Fatal(code) {
					log.Error("worker could not start, check the target and its flags")
				}
				if err := sd.Shutdown(fx.ExitCode(code)); err != nil {
					log.Error("failed to shut down", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stop context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stop.Done():
				return stop.Err()
			}
		},
	})
}
