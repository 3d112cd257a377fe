/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"flag"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/tinyhttp/tinyhttp/pkg/admission"
	"github.com/tinyhttp/tinyhttp/pkg/common/observability/logging"
	"github.com/tinyhttp/tinyhttp/pkg/memory"
	"github.com/tinyhttp/tinyhttp/pkg/util/env"
)

const (
	DefaultPort         = 8080
	DefaultMetricsPort  = 9090
	DefaultMaxQueued    = 16
	DefaultMaxParallel  = 2
	ZapLogLevelFlagName = "zap-log-level"
)

// Options contains the command-line configuration for tinyhttpd.
type Options struct {
	//
	// Serving.
	//
	Port               int           // Port the HTTP server listens on.
	IdleTimeout        time.Duration // Bound on each read and write on a connection.
	MaxHeaderBytes     int           // Buffer size a request head must fit in.
	ResponseChunkBytes int           // Size of each buffer a response is assembled in.
	//
	// Admission.
	//
	MaxQueued         int    // Most connections queued at once.
	MaxParallel       int    // Most requests served at once.
	RequestHeapBytes  uint64 // Heap a request needs to be dispatched.
	QueueHeapBytes    uint64 // Heap needed to queue a new connection.
	MinimumHeapBytes  uint64 // Free heap below which every connection is refused.
	MinimumAllocBytes uint64 // Largest block below which every connection is refused.
	ReceiveFirst      bool   // Read the request before it joins the dispatch order.
	LimitsFile        string // YAML file whose limits are applied and watched for changes.
	//
	// Heap.
	//
	HeapBudgetBytes   uint64 // Bytes the server may allocate for buffers; zero uses the Go runtime's limit.
	HeapMaxBlockBytes uint64 // Largest single buffer allocation; zero means no limit.
	//
	// Diagnostics.
	//
	LogVerbosity int         // Number for the log level verbosity.
	ZapOptions   zap.Options // Zap logging options.
	MetricsPort  int         // The metrics port exposed by tinyhttpd.
	EnablePprof  bool        // Enables pprof handlers.

	// internal
	fs *pflag.FlagSet // FlagSet used in AddFlags() and consulted in Complete()
}

// NewOptions returns a new Options struct initialized with default values. TINYHTTP_* environment variables
// override the built-in defaults.
func NewOptions() *Options {
	logger := log.Log.WithName("options")
	return &Options{
		Port:               env.GetEnvInt("TINYHTTP_PORT", DefaultPort, logger),
		IdleTimeout:        env.GetEnvDuration("TINYHTTP_IDLE_TIMEOUT", DefaultIdleTimeout, logger),
		MaxHeaderBytes:     env.GetEnvInt("TINYHTTP_MAX_HEADER_BYTES", DefaultMaxHeaderBytes, logger),
		ResponseChunkBytes: env.GetEnvInt("TINYHTTP_RESPONSE_CHUNK_BYTES", DefaultResponseChunkBytes, logger),
		MaxQueued:          env.GetEnvInt("TINYHTTP_MAX_QUEUED", DefaultMaxQueued, logger),
		MaxParallel:        env.GetEnvInt("TINYHTTP_MAX_PARALLEL", DefaultMaxParallel, logger),
		RequestHeapBytes:   env.GetEnvUint64("TINYHTTP_REQUEST_HEAP_BYTES", 0, logger),
		QueueHeapBytes:     env.GetEnvUint64("TINYHTTP_QUEUE_HEAP_BYTES", 0, logger),
		MinimumHeapBytes:   env.GetEnvUint64("TINYHTTP_MINIMUM_HEAP_BYTES", admission.DefaultMinimumHeap, logger),
		MinimumAllocBytes:  env.GetEnvUint64("TINYHTTP_MINIMUM_ALLOC_BYTES", admission.DefaultMinimumAlloc, logger),
		HeapBudgetBytes:    env.GetEnvUint64("TINYHTTP_HEAP_BUDGET_BYTES", 0, logger),
		HeapMaxBlockBytes:  env.GetEnvUint64("TINYHTTP_HEAP_MAX_BLOCK_BYTES", 0, logger),
		LimitsFile:         env.GetEnvString("TINYHTTP_LIMITS_FILE", "", logger),
		LogVerbosity:       logging.DEFAULT,
		ZapOptions:         zap.Options{Development: true},
		MetricsPort:        DefaultMetricsPort,
		EnablePprof:        true,
	}
}

// AddFlags binds the Options fields to command-line flags on the given FlagSet.
func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	opts.fs = fs

	fs.IntVar(&opts.Port, "port", opts.Port, "The port the HTTP server listens on.")
	fs.DurationVar(&opts.IdleTimeout, "idle-timeout", opts.IdleTimeout,
		"How long a connection may stay silent while its request is read or its response written.")
	fs.IntVar(&opts.MaxHeaderBytes, "max-header-bytes", opts.MaxHeaderBytes,
		"The buffer size a request head must fit in.")
	fs.IntVar(&opts.ResponseChunkBytes, "response-chunk-bytes", opts.ResponseChunkBytes,
		"The size of each buffer a response body is assembled in.")
	fs.IntVar(&opts.MaxQueued, "max-queued", opts.MaxQueued,
		"The most connections held in the queue at once. Zero means unlimited.")
	fs.IntVar(&opts.MaxParallel, "max-parallel", opts.MaxParallel,
		"The most requests served at once. Zero means unlimited.")
	fs.Uint64Var(&opts.RequestHeapBytes, "request-heap-bytes", opts.RequestHeapBytes,
		"The free heap a queued request needs before it is dispatched.")
	fs.Uint64Var(&opts.QueueHeapBytes, "queue-heap-bytes", opts.QueueHeapBytes,
		"The free heap needed to queue a new connection.")
	fs.Uint64Var(&opts.MinimumHeapBytes, "minimum-heap-bytes", opts.MinimumHeapBytes,
		"Connections are refused while free heap is at or below this many bytes.")
	fs.Uint64Var(&opts.MinimumAllocBytes, "minimum-alloc-bytes", opts.MinimumAllocBytes,
		"Connections are refused while the largest allocatable block is at or below this many bytes.")
	fs.BoolVar(&opts.ReceiveFirst, "receive-first", opts.ReceiveFirst,
		"Read each request before it becomes eligible for dispatch.")
	fs.StringVar(&opts.LimitsFile, "limits-file", opts.LimitsFile,
		"A YAML file with admission limits. It is applied at startup and reloaded when it changes.")
	fs.Uint64Var(&opts.HeapBudgetBytes, "heap-budget-bytes", opts.HeapBudgetBytes,
		"Bytes available for request and response buffers. Zero uses the Go runtime memory limit.")
	fs.Uint64Var(&opts.HeapMaxBlockBytes, "heap-max-block-bytes", opts.HeapMaxBlockBytes,
		"The largest single buffer allocation from the heap budget. Zero means no limit.")
	fs.IntVar(&opts.MetricsPort, "metrics-port", opts.MetricsPort,
		"The metrics port exposed by tinyhttpd.")
	fs.IntVarP(&opts.LogVerbosity, "v", "v", opts.LogVerbosity,
		"Number for the log level verbosity.")
	fs.BoolVar(&opts.EnablePprof, "enable-pprof", opts.EnablePprof,
		"Enables pprof handlers. Defaults to true. Set to false to disable pprof handlers.")

	// Bind zap flags (zap expects a standard Go FlagSet; pflag.FlagSet is not compatible).
	gofs := flag.NewFlagSet("zap", flag.ExitOnError)
	opts.ZapOptions.BindFlags(gofs)
	fs.AddGoFlagSet(gofs)
}

// Complete performs post-processing of parsed command-line arguments.
func (opts *Options) Complete() error {
	if opts.fs == nil {
		return nil
	}
	// Derive the zap log level from the -v flag when --zap-log-level is not set explicitly.
	zapLogLevelFlag := opts.fs.Lookup(ZapLogLevelFlagName)
	if zapLogLevelFlag != nil && !zapLogLevelFlag.Changed {
		lvl := -1 * (opts.LogVerbosity)
		opts.ZapOptions.Level = uberzap.NewAtomicLevelAt(zapcore.Level(int8(lvl)))
		zapLogLevelFlag.Changed = true
	}
	return nil
}

// Validate checks the Options for invalid or conflicting values.
func (opts *Options) Validate() error {
	for _, pc := range []struct {
		name string
		port int
	}{
		{"port", opts.Port},
		{"metrics-port", opts.MetricsPort},
	} {
		if pc.port < 1 || pc.port > 65535 {
			return fmt.Errorf("invalid value %d for flag %q: must be between 1 and 65535", pc.port, pc.name)
		}
	}
	if opts.Port == opts.MetricsPort {
		return fmt.Errorf("port conflict: port (%d) and metrics-port (%d) must be different", opts.Port, opts.MetricsPort)
	}

	for _, nc := range []struct {
		name  string
		value int
		floor int
	}{
		{"max-header-bytes", opts.MaxHeaderBytes, 1},
		{"response-chunk-bytes", opts.ResponseChunkBytes, 1},
		{"max-queued", opts.MaxQueued, 0},
		{"max-parallel", opts.MaxParallel, 0},
		{"v", opts.LogVerbosity, 0},
	} {
		if nc.value < nc.floor {
			return fmt.Errorf("invalid value %d for flag %q: must be >= %d", nc.value, nc.name, nc.floor)
		}
	}
	if opts.IdleTimeout <= 0 {
		return fmt.Errorf("invalid value %s for flag %q: must be positive", opts.IdleTimeout, "idle-timeout")
	}
	if opts.HeapBudgetBytes > 0 && opts.HeapBudgetBytes <= opts.MinimumHeapBytes {
		return fmt.Errorf("heap-budget-bytes (%d) must exceed minimum-heap-bytes (%d)", opts.HeapBudgetBytes, opts.MinimumHeapBytes)
	}
	return admission.ValidateLimits(opts.Limits())
}

// Limits returns the admission limits the options describe.
func (opts *Options) Limits() admission.Limits {
	return admission.Limits{
		MaxQueued:        opts.MaxQueued,
		MaxParallel:      opts.MaxParallel,
		RequestHeapBytes: opts.RequestHeapBytes,
		QueueHeapBytes:   opts.QueueHeapBytes,
	}
}

// Heap returns the heap buffers are allocated from: a fixed budget when one is configured, the Go runtime otherwise.
func (opts *Options) Heap() memory.Heap {
	if opts.HeapBudgetBytes > 0 {
		return memory.NewBudget(opts.HeapBudgetBytes, opts.HeapMaxBlockBytes)
	}
	return memory.System{}
}

// ServerConfig returns the server configuration for heap.
func (opts *Options) ServerConfig(heap memory.Heap) Config {
	return Config{
		Heap:               heap,
		MaxHeaderBytes:     opts.MaxHeaderBytes,
		ResponseChunkBytes: opts.ResponseChunkBytes,
		IdleTimeout:        opts.IdleTimeout,
	}
}

// AdmissionOptions returns the admission controller options.
func (opts *Options) AdmissionOptions() []admission.ConfigOption {
	return []admission.ConfigOption{
		admission.WithLimits(opts.Limits()),
		admission.WithMinimumHeap(opts.MinimumHeapBytes),
		admission.WithMinimumAlloc(opts.MinimumAllocBytes),
		admission.WithReceiveFirst(opts.ReceiveFirst),
	}
}
