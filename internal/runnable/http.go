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

package runnable

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/tinyhttp/tinyhttp/pkg/server"
)

const shutdownTimeout = 5 * time.Second

// HTTPServer converts the given net/http server into a runnable serving on ln.
// The server name is just being used for logging.
func HTTPServer(name string, srv *http.Server, ln net.Listener) manager.Runnable {
	return manager.RunnableFunc(func(ctx context.Context) error {
		// Use "name" key as that is what manager.Server does as well.
		log := ctrl.Log.WithValues("name", name)
		log.Info("HTTP server listening", "addr", ln.Addr().String())

		// Terminate the server on context closed.
		// Make sure the goroutine does not leak.
		doneCh := make(chan struct{})
		defer close(doneCh)
		go func() {
			select {
			case <-ctx.Done():
				log.Info("HTTP server shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			case <-doneCh:
			}
		}()

		// Keep serving until terminated.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed - %w", err)
		}
		log.Info("HTTP server terminated")
		return nil
	})
}

// TinyHTTPServer converts the given tinyhttp server into a runnable serving on ln until the context is done.
func TinyHTTPServer(name string, srv *server.Server, ln net.Listener) manager.Runnable {
	return manager.RunnableFunc(func(ctx context.Context) error {
		log := ctrl.Log.WithValues("name", name)
		log.Info("tinyhttp server starting")
		if err := srv.Serve(ctx, ln); err != nil {
			return fmt.Errorf("tinyhttp server failed - %w", err)
		}
		log.Info("tinyhttp server terminated")
		return nil
	})
}

// Listen opens a TCP listener on port for one of the runnables above.
func Listen(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d - %w", port, err)
	}
	return ln, nil
}
