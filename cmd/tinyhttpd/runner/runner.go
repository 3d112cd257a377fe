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

package runner

import (
	"context"
	"fmt"
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/tinyhttp/tinyhttp/internal/runnable"
	"github.com/tinyhttp/tinyhttp/pkg/admission"
	logutil "github.com/tinyhttp/tinyhttp/pkg/common/observability/logging"
	"github.com/tinyhttp/tinyhttp/pkg/common/observability/profiling"
	"github.com/tinyhttp/tinyhttp/pkg/config/loader"
	"github.com/tinyhttp/tinyhttp/pkg/memory"
	"github.com/tinyhttp/tinyhttp/pkg/metrics"
	"github.com/tinyhttp/tinyhttp/pkg/server"
	"github.com/tinyhttp/tinyhttp/version"
)

const statusPath = "/debug/tinyhttp/status"

var setupLog = ctrl.Log.WithName("setup")

func NewRunner() *Runner {
	return &Runner{
		executableName: "tinyhttpd",
		fs:             pflag.CommandLine,
	}
}

// Runner is used to run tinyhttpd with its metrics endpoint.
type Runner struct {
	executableName string
	fs             *pflag.FlagSet
	args           []string
	handlers       []server.Handler
}

// WithExecutableName sets the name of the executable containing the runner.
// The name is used in the version log upon startup and is otherwise opaque.
func (r *Runner) WithExecutableName(exeName string) *Runner {
	r.executableName = exeName
	return r
}

// WithHandlers registers handlers ahead of the built-in ones.
func (r *Runner) WithHandlers(handlers ...server.Handler) *Runner {
	r.handlers = append(r.handlers, handlers...)
	return r
}

// WithArgs parses args on a private flag set instead of the process command line.
func (r *Runner) WithArgs(args []string) *Runner {
	r.fs = pflag.NewFlagSet(r.executableName, pflag.ContinueOnError)
	r.args = args
	return r
}

func (r *Runner) Run(ctx context.Context) error {
	opts := server.NewOptions()
	opts.AddFlags(r.fs)
	if err := r.parse(); err != nil {
		setupLog.Error(err, "Failed to parse flags")
		return err
	}
	if err := opts.Complete(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		setupLog.Error(err, "Failed to validate flags")
		return err
	}
	logutil.InitLogging(&opts.ZapOptions)
	setupLog.Info(r.executableName+" build", "commit-sha", version.CommitSHA, "build-ref", version.BuildRef)

	// Print all flag values
	flags := make(map[string]any)
	r.fs.VisitAll(func(f *pflag.Flag) {
		flags[f.Name] = f.Value
	})
	setupLog.Info("Flags processed", "flags", flags)

	metrics.Register()
	metrics.RecordTinyHTTPInfo(version.CommitSHA, version.BuildRef)

	heap := opts.Heap()
	cfg := opts.ServerConfig(heap)
	cfg.Logger = ctrl.Log.WithName("server")
	admissionOpts := append(opts.AdmissionOptions(), admission.WithLogger(ctrl.Log.WithName("admission")))
	if opts.LimitsFile != "" {
		limits, err := loader.LoadLimits(nil, opts.LimitsFile)
		if err != nil {
			setupLog.Error(err, "Failed to load limits file", "path", opts.LimitsFile)
			return err
		}
		setupLog.Info("Loaded limits file", "path", opts.LimitsFile, "limits", limits.String())
		admissionOpts = append(admissionOpts, admission.WithLimits(limits))
	}
	srv, err := server.New(cfg, admissionOpts...)
	if err != nil {
		setupLog.Error(err, "Failed to create server")
		return err
	}
	r.registerHandlers(srv, heap)

	mux := newMetricsMux(srv.Controller())
	if opts.EnablePprof {
		setupLog.Info("Setting pprof handlers")
		profiling.SetupPprofHandlers(mux)
	}

	serverLn, err := runnable.Listen(opts.Port)
	if err != nil {
		setupLog.Error(err, "Failed to listen", "port", opts.Port)
		return err
	}
	metricsLn, err := runnable.Listen(opts.MetricsPort)
	if err != nil {
		_ = serverLn.Close()
		setupLog.Error(err, "Failed to listen", "port", opts.MetricsPort)
		return err
	}

	runnables := []manager.Runnable{
		runnable.TinyHTTPServer("tinyhttp", srv, serverLn),
		runnable.HTTPServer("metrics", &http.Server{Handler: mux}, metricsLn),
	}
	if opts.LimitsFile != "" {
		runnables = append(runnables, limitsWatcher(opts.LimitsFile, srv.Controller()))
	}

	setupLog.Info("Runnables starting", "count", len(runnables))
	g, gctx := errgroup.WithContext(ctx)
	for _, rn := range runnables {
		g.Go(func() error { return rn.Start(gctx) })
	}
	if err := g.Wait(); err != nil {
		setupLog.Error(err, "Runnable failed")
		return err
	}
	setupLog.Info("Runnables terminated")
	return nil
}

func (r *Runner) parse() error {
	if r.fs == pflag.CommandLine {
		pflag.Parse()
		return nil
	}
	return r.fs.Parse(r.args)
}

// registerHandlers installs the runner's handlers followed by the built-in index and status pages.
func (r *Runner) registerHandlers(srv *server.Server, heap memory.Heap) {
	for _, h := range r.handlers {
		srv.AddHandler(h)
	}
	srv.HandleFunc(http.MethodGet, "/status", func(w server.ResponseWriter, _ *http.Request) error {
		w.Header().Set("Content-Type", "text/plain")
		return srv.Controller().PrintStatus(w)
	})
	srv.HandleFunc(http.MethodGet, "/index.html", func(w server.ResponseWriter, _ *http.Request) error {
		w.Header().Set("Content-Type", "text/plain")
		_, err := fmt.Fprintf(w, "%s %s (%s)\nfree heap: %d bytes, largest block: %d bytes\n",
			r.executableName, version.CommitSHA, runtime.Version(), heap.FreeBytes(), heap.MaxBlock())
		return err
	})
	srv.RewriteURL("/", "/index.html")
}

// newMetricsMux serves Prometheus metrics and the queue status dump.
func newMetricsMux(controller *admission.Controller) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc(statusPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := controller.PrintStatus(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}

// limitsWatcher reloads limits from path into target until the context is done.
func limitsWatcher(path string, target loader.LimitsSetter) manager.Runnable {
	return manager.RunnableFunc(func(ctx context.Context) error {
		ctx = log.IntoContext(ctx, ctrl.Log.WithName("loader"))
		if err := loader.WatchLimits(ctx, path, target); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
}
