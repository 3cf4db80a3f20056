// Command optrun executes the optimization runs described in a YAML run file
// and prints their results.
//
//	optrun --runs runs.yaml --concurrency 4 --output json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/config"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/errors"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/logging"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/engine"
)

// errRunsFailed is returned after printing when at least one run failed.
var errRunsFailed = errors.New("one or more runs failed")

type runOutput struct {
	Name      string               `yaml:"name" json:"name"`
	ID        string               `yaml:"id,omitempty" json:"id,omitempty"`
	Objective string               `yaml:"objective" json:"objective"`
	Method    string               `yaml:"method,omitempty" json:"method,omitempty"`
	Status    string               `yaml:"status" json:"status"`
	Result    *optimization.Result `yaml:"result,omitempty" json:"result,omitempty"`
	Metrics   *engine.Metrics      `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Error     string               `yaml:"error,omitempty" json:"error,omitempty"`
}

type options struct {
	runs        string
	concurrency int
	logLevel    string
	output      string
	timeout     time.Duration
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := pflag.NewFlagSet("optrun", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&o.runs, "runs", "r", "", "path to the YAML run file")
	fs.IntVarP(&o.concurrency, "concurrency", "c", config.GetEnvAsInt("OPT_WORKER_COUNT", runtime.NumCPU()), "runs executed at once")
	fs.StringVar(&o.logLevel, "log-level", config.GetEnv("LOG_LEVEL", "warn"), "debug, info, warn or error")
	fs.StringVarP(&o.output, "output", "o", "yaml", "result format, yaml or json")
	fs.DurationVar(&o.timeout, "timeout", 0, "cancel unfinished runs after this long (0 disables)")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.runs == "" && fs.NArg() == 1 {
		o.runs = fs.Arg(0)
	}

	o.output = strings.ToLower(o.output)
	switch {
	case o.runs == "":
		return o, errors.New("--runs is required")
	case o.concurrency < 1:
		return o, errors.Errorf("--concurrency must be at least 1, got %d", o.concurrency)
	case o.output != "yaml" && o.output != "json":
		return o, errors.Errorf("--output must be yaml or json, got %q", o.output)
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	rf, err := config.LoadRunFile(o.runs)
	if err != nil {
		return err
	}

	logger := logging.New(logging.ParseLevel(o.logLevel), stderr).WithFormat(logging.FormatConsole)
	eng := engine.New(engine.WithLogger(logging.NewZapLogger(logger).Named("engine")))
	defer eng.Close()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	// Runs report their own failures, so the group never cancels siblings.
	results := make([]runOutput, len(rf.Runs))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, spec := range rf.Runs {
		g.Go(func() error {
			results[i] = execute(ctx, eng, spec)
			return nil
		})
	}
	_ = g.Wait()

	if err := write(stdout, o.output, results); err != nil {
		return err
	}
	for _, r := range results {
		if r.Error != "" {
			return errRunsFailed
		}
	}
	return nil
}

func execute(ctx context.Context, eng *engine.Engine, spec config.RunSpec) runOutput {
	out := runOutput{Name: spec.Name, Objective: spec.Objective}

	id, err := spec.Submit(eng)
	if err != nil {
		out.Status = "invalid"
		out.Error = err.Error()
		return out
	}
	out.ID = id

	res, err := eng.Start(ctx, id)
	if c, gerr := eng.Get(id); gerr == nil {
		out.Method = c.Method.String()
		out.Status = string(c.Status)
	}
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Result = res
	if m, err := eng.Metrics(id); err == nil {
		out.Metrics = &m
	}
	return out
}

func write(w io.Writer, format string, results []runOutput) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(results); err != nil {
		return err
	}
	return enc.Close()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if err != pflag.ErrHelp {
			fmt.Fprintf(os.Stderr, "optrun: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
