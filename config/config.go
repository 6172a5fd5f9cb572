// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config gathers the settings shared by the worker binaries and the
// front-end. Every setting is a flag; it can also come from a FUZZCHECK_*
// environment variable (optionally loaded from .env) or from a YAML file named
// by -config. Flags win over the environment, which wins over the file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bradleyjkemp/fuzzcheck/artifact"
	"github.com/bradleyjkemp/fuzzcheck/logger"
)

const (
	CommandFuzz     = "fuzz"
	CommandMinimize = "minimize"
	CommandRead     = "read"

	envPrefix = "FUZZCHECK_"
)

type Config struct {
	Command string

	MaxRuns            uint64
	MaxDuration        time.Duration
	MutationDepth      int
	MaxComplexity      float64
	Seed               uint64
	IterationTimeout   time.Duration
	FavoredProbability float64

	InputFolder     string
	OutputFolder    string
	InputFile       string
	ArtifactFolder  string
	ArtifactName    string
	ArtifactContent string

	Target        string
	GlobalTimeout time.Duration

	Func        string
	LogLevel    string
	MetricsAddr string

	ConfigFile string
}

func Default() *Config {
	return &Config{
		Command:            CommandFuzz,
		MutationDepth:      3,
		MaxComplexity:      256,
		IterationTimeout:   10 * time.Second,
		FavoredProbability: 0.25,
		ArtifactFolder:     "./artifacts",
		ArtifactName:       artifact.DefaultNameSchema,
		ArtifactContent:    "all",
		LogLevel:           "info",
	}
}

func (c *Config) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Uint64Var(&c.MaxRuns, "max-runs", c.MaxRuns, "stop after this many runs (0 = unbounded)")
	fs.DurationVar(&c.MaxDuration, "max-duration", c.MaxDuration, "stop after this long (0 = unbounded)")
	fs.IntVar(&c.MutationDepth, "mutation-depth", c.MutationDepth, "consecutive mutations applied to a unit per batch")
	fs.Float64Var(&c.MaxComplexity, "max-complexity", c.MaxComplexity, "units above this complexity are never run")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "random seed (0 = derived from the clock)")
	fs.DurationVar(&c.IterationTimeout, "iteration-timeout", c.IterationTimeout, "a single run taking longer than this is a timeout")
	fs.Float64Var(&c.FavoredProbability, "favored-probability", c.FavoredProbability, "how often the favored unit is picked while minimizing")
	fs.StringVar(&c.InputFolder, "input-folder", c.InputFolder, "seed corpus folder")
	fs.StringVar(&c.OutputFolder, "output-folder", c.OutputFolder, "folder the corpus is written to")
	fs.StringVar(&c.InputFile, "input-file", c.InputFile, "unit to minimize or read")
	fs.StringVar(&c.ArtifactFolder, "artifact-folder", c.ArtifactFolder, "folder for crash, timeout and test failure artifacts")
	fs.StringVar(&c.ArtifactName, "artifact-name", c.ArtifactName, "artifact file name template using {hash}, {complexity}, {kind} and {index}")
	fs.StringVar(&c.ArtifactContent, "artifact-content", c.ArtifactContent, "comma separated artifact fields: unit,features,score,complexity,hash,kind or all")
	fs.StringVar(&c.Target, "target", c.Target, "fuzz binary started by the front-end")
	fs.DurationVar(&c.GlobalTimeout, "global-timeout", c.GlobalTimeout, "front-end wall clock limit (0 = unbounded)")
	fs.StringVar(&c.Func, "func", c.Func, "which function to fuzz")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve prometheus metrics on this address")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML file with default settings")
	return fs
}

// Load builds the configuration from args (without the program name) and the
// process environment.
func Load(name string, args []string, output io.Writer) (*Config, error) {
	// .env is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	command := ""
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	// First pass: find out which flags were given and where the file is.
	given := Default()
	cli := given.flagSet(name)
	cli.SetOutput(output)
	if err := cli.Parse(args); err != nil {
		return nil, err
	}
	if rest := cli.Args(); len(rest) > 0 {
		if command != "" || len(rest) > 1 {
			return nil, fmt.Errorf("unexpected arguments %q", rest)
		}
		command = rest[0]
	}

	c := Default()
	fs := c.flagSet(name)
	configFile := given.ConfigFile
	if configFile == "" {
		configFile = os.Getenv(envPrefix + "CONFIG")
	}
	if configFile != "" {
		if err := applyFile(fs, configFile); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(fs); err != nil {
		return nil, err
	}
	var err error
	cli.Visit(func(f *flag.Flag) {
		if err == nil {
			err = fs.Set(f.Name, f.Value.String())
		}
	})
	if err != nil {
		return nil, err
	}
	if command != "" {
		c.Command = command
	} else if v, ok := os.LookupEnv(envPrefix + "COMMAND"); ok {
		c.Command = v
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// EnvName is the environment variable that sets flag name.
func EnvName(name string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func applyEnv(fs *flag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || f.Name == "config" {
			return
		}
		if v, ok := os.LookupEnv(EnvName(f.Name)); ok {
			if e := fs.Set(f.Name, v); e != nil {
				err = fmt.Errorf("invalid value %q for %v: %w", v, EnvName(f.Name), e)
			}
		}
	})
	return err
}

// applyFile reads a flat YAML mapping keyed by flag name.
func applyFile(fs *flag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse config file %v: %w", path, err)
	}
	for key, v := range values {
		if key == "config" || fs.Lookup(key) == nil {
			return fmt.Errorf("config file %v: unknown setting %q", path, key)
		}
		if err := fs.Set(key, fmt.Sprint(v)); err != nil {
			return fmt.Errorf("config file %v: invalid value for %v: %w", path, key, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Command {
	case CommandFuzz:
	case CommandMinimize, CommandRead:
		if c.InputFile == "" {
			errs = append(errs, fmt.Errorf("%v needs -input-file", c.Command))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown command %q (want fuzz, minimize or read)", c.Command))
	}
	if c.MutationDepth < 1 {
		errs = append(errs, fmt.Errorf("-mutation-depth must be at least 1, got %v", c.MutationDepth))
	}
	if !(c.MaxComplexity > 0) {
		errs = append(errs, fmt.Errorf("-max-complexity must be positive, got %v", c.MaxComplexity))
	}
	if c.FavoredProbability < 0 || c.FavoredProbability > 1 {
		errs = append(errs, fmt.Errorf("-favored-probability must be within [0, 1], got %v", c.FavoredProbability))
	}
	if c.MaxDuration < 0 || c.IterationTimeout < 0 || c.GlobalTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.ArtifactFolder == "" {
		errs = append(errs, errors.New("-artifact-folder must not be empty"))
	}
	if _, err := artifact.ParseNameSchema(c.ArtifactName); err != nil {
		errs = append(errs, err)
	}
	if _, err := artifact.ParseContentSchema(c.ArtifactContent); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) NameSchema() artifact.NameSchema {
	return artifact.MustParseNameSchema(c.ArtifactName)
}

func (c *Config) ContentSchema() artifact.ContentSchema {
	cs, err := artifact.ParseContentSchema(c.ArtifactContent)
	if err != nil {
		panic(err)
	}
	return cs
}

// WorkerArgs is the command line that makes a worker binary run command with
// this configuration. The front-end only settings are left out.
func (c *Config) WorkerArgs(command, inputFile string) []string {
	args := []string{
		command,
		"-max-runs", strconv.FormatUint(c.MaxRuns, 10),
		"-max-duration", c.MaxDuration.String(),
		"-mutation-depth", strconv.Itoa(c.MutationDepth),
		"-max-complexity", strconv.FormatFloat(c.MaxComplexity, 'g', -1, 64),
		"-seed", strconv.FormatUint(c.Seed, 10),
		"-iteration-timeout", c.IterationTimeout.String(),
		"-favored-probability", strconv.FormatFloat(c.FavoredProbability, 'g', -1, 64),
		"-artifact-folder", c.ArtifactFolder,
		"-artifact-name", c.ArtifactName,
		"-artifact-content", c.ArtifactContent,
		"-log-level", c.LogLevel,
	}
	for _, kv := range [][2]string{
		{"-input-folder", c.InputFolder},
		{"-output-folder", c.OutputFolder},
		{"-input-file", inputFile},
		{"-func", c.Func},
		{"-metrics-addr", c.MetricsAddr},
	} {
		if kv[1] != "" {
			args = append(args, kv[0], kv[1])
		}
	}
	return args
}
