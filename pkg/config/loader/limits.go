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

package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"

	"github.com/tinyhttp/tinyhttp/pkg/admission"
	logutil "github.com/tinyhttp/tinyhttp/pkg/common/observability/logging"
)

// debounceDelay wait for events to settle before reloading
const debounceDelay = 250 * time.Millisecond

// LimitsSetter receives reloaded limits. admission.Controller implements it.
type LimitsSetter interface {
	SetLimits(admission.Limits) error
}

// LoadLimits loads queue limits either from the supplied text or from a file. Unknown fields are rejected.
//
// The file is YAML (or JSON) with the fields of admission.Limits:
//
//	maxQueued: 8
//	maxParallel: 2
//	requestHeapBytes: 8192
//	queueHeapBytes: 4096
func LoadLimits(configText []byte, fileName string) (admission.Limits, error) {
	var err error
	if len(configText) == 0 {
		configText, err = os.ReadFile(fileName)
		if err != nil {
			return admission.Limits{}, fmt.Errorf("failed to load limits file: %w", err)
		}
	}

	limits := admission.Limits{}
	if err := yaml.UnmarshalStrict(configText, &limits); err != nil {
		return admission.Limits{}, fmt.Errorf("the limits configuration is invalid: %w", err)
	}
	if err := admission.ValidateLimits(limits); err != nil {
		return admission.Limits{}, fmt.Errorf("the limits configuration is invalid: %w", err)
	}
	return limits, nil
}

// WatchLimits reloads the limits file whenever it changes and hands the result to target. The directory holding the
// file is watched, so editors that replace the file and Kubernetes ConfigMap symlink swaps are both picked up. An
// invalid file is logged and ignored; target keeps its previous limits. Watching stops when ctx is done.
func WatchLimits(ctx context.Context, path string, target LimitsSetter) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create limits watcher: %w", err)
	}

	logger := log.FromContext(ctx).
		WithName("limits-reloader").
		WithValues("path", path)
	traceLogger := logger.V(logutil.TRACE)

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close() // Clean up watcher before returning
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	go func() {
		defer w.Close()

		var debounceTimer *time.Timer
		defer func() {
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
		}()

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				traceLogger.Info("Limits directory changed", "event", ev)

				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				// Debounce: reset the timer if we get another event
				if debounceTimer != nil {
					debounceTimer.Stop()
				}

				debounceTimer = time.AfterFunc(debounceDelay, func() {
					limits, err := LoadLimits(nil, path)
					if err != nil {
						logger.Error(err, "Failed to reload limits")
						return
					}
					if err := target.SetLimits(limits); err != nil {
						logger.Error(err, "Failed to apply reloaded limits")
						return
					}
					logger.V(logutil.DEFAULT).Info("Reloaded limits", "limits", limits.String())
				})

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error(err, "limits watcher failed")
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
