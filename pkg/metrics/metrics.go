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

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	compbasemetrics "k8s.io/component-base/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	metricsutil "github.com/tinyhttp/tinyhttp/pkg/util/metrics"
)

const (
	// --- Subsystems ---
	AdmissionComponent = "tinyhttp_admission"
	ServerComponent    = "tinyhttp_server"
	HeapComponent      = "tinyhttp_heap"

	// --- Admission outcomes ---
	OutcomeAdmitted          = "admitted"
	OutcomeHeapCritical      = "heap_critical"
	OutcomeQueueAtCapacity   = "queue_at_capacity"
	OutcomeQueueHeapShortage = "queue_heap_unavailable"
	OutcomeRequestFailed     = "request_alloc_failed"
)

var (
	// QueueWaitBuckets covers queue waits from 1ms to 1 minute.
	QueueWaitBuckets = []float64{
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
	}
)

// --- Admission Metrics ---
var (
	admissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: AdmissionComponent,
			Name:      "decisions_total",
			Help:      metricsutil.HelpMsgWithStability("Counter of connection admission decisions broken out by outcome.", compbasemetrics.ALPHA),
		},
		[]string{"outcome"},
	)

	rejectAborts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: AdmissionComponent,
			Name:      "reject_aborts_total",
			Help:      metricsutil.HelpMsgWithStability("Counter of rejected connections that had to be aborted because the 503 response could not be sent.", compbasemetrics.ALPHA),
		},
	)

	dispatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: AdmissionComponent,
			Name:      "dispatches_total",
			Help:      metricsutil.HelpMsgWithStability("Counter of queued requests handed to their handler.", compbasemetrics.ALPHA),
		},
	)

	deferrals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: AdmissionComponent,
			Name:      "deferrals_total",
			Help:      metricsutil.HelpMsgWithStability("Counter of requests deferred to a later scheduling pass.", compbasemetrics.ALPHA),
		},
	)

	schedulingPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: AdmissionComponent,
			Name:      "scheduling_passes_total",
			Help:      metricsutil.HelpMsgWithStability("Counter of scheduling passes broken out by the reason the pass stopped.", compbasemetrics.ALPHA),
		},
		[]string{"stop_reason"},
	)

	queueEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: AdmissionComponent,
			Name:      "queue_entries",
			Help:      metricsutil.HelpMsgWithStability("Number of queue entries broken out by state.", compbasemetrics.ALPHA),
		},
		[]string{"state"},
	)

	queueWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Subsystem: AdmissionComponent,
			Name:      "queue_wait_seconds",
			Help:      metricsutil.HelpMsgWithStability("Time a request spent queued before being dispatched, in seconds.", compbasemetrics.ALPHA),
			Buckets:   QueueWaitBuckets,
		},
	)
)

// --- Heap Metrics ---
var (
	heapFreeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: HeapComponent,
			Name:      "free_bytes",
			Help:      metricsutil.HelpMsgWithStability("Free heap bytes observed at the last admission check.", compbasemetrics.ALPHA),
		},
	)

	heapMaxBlockBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: HeapComponent,
			Name:      "max_block_bytes",
			Help:      metricsutil.HelpMsgWithStability("Largest allocatable block observed at the last admission check.", compbasemetrics.ALPHA),
		},
	)

	allocationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: HeapComponent,
			Name:      "allocation_failures_total",
			Help:      metricsutil.HelpMsgWithStability("Counter of failed buffer allocations broken out by purpose.", compbasemetrics.ALPHA),
		},
		[]string{"purpose"},
	)
)

// --- Server Metrics ---
var (
	responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: ServerComponent,
			Name:      "responses_total",
			Help:      metricsutil.HelpMsgWithStability("Counter of responses sent broken out by status code.", compbasemetrics.ALPHA),
		},
		[]string{"code"},
	)

	responseSizes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Subsystem: ServerComponent,
			Name:      "response_body_bytes",
			Help:      metricsutil.HelpMsgWithStability("Response body sizes in bytes.", compbasemetrics.ALPHA),
			// Powers of 2 from 64B to 256KiB.
			Buckets: prometheus.ExponentialBuckets(64, 2, 13),
		},
	)

	requestLatencies = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Subsystem: ServerComponent,
			Name:      "request_duration_seconds",
			Help:      metricsutil.HelpMsgWithStability("Time from connection accept to response sent, in seconds.", compbasemetrics.ALPHA),
			Buckets:   QueueWaitBuckets,
		},
	)

	// TinyHTTPInfo is a fixed-value gauge carrying build information as labels.
	TinyHTTPInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: ServerComponent,
			Name:      "info",
			Help:      metricsutil.HelpMsgWithStability("General information of the current build.", compbasemetrics.ALPHA),
		},
		[]string{"commit", "build_ref"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register(customCollectors ...prometheus.Collector) {
	registerMetrics.Do(func() {
		metrics.Registry.MustRegister(admissionDecisions)
		metrics.Registry.MustRegister(rejectAborts)
		metrics.Registry.MustRegister(dispatches)
		metrics.Registry.MustRegister(deferrals)
		metrics.Registry.MustRegister(schedulingPasses)
		metrics.Registry.MustRegister(queueEntries)
		metrics.Registry.MustRegister(queueWait)

		metrics.Registry.MustRegister(heapFreeBytes)
		metrics.Registry.MustRegister(heapMaxBlockBytes)
		metrics.Registry.MustRegister(allocationFailures)

		metrics.Registry.MustRegister(responses)
		metrics.Registry.MustRegister(responseSizes)
		metrics.Registry.MustRegister(requestLatencies)
		metrics.Registry.MustRegister(TinyHTTPInfo)
		for _, collector := range customCollectors {
			metrics.Registry.MustRegister(collector)
		}
	})
}

// Reset clears every metric. Used by tests.
func Reset() {
	admissionDecisions.Reset()
	schedulingPasses.Reset()
	queueEntries.Reset()
	allocationFailures.Reset()
	responses.Reset()
	TinyHTTPInfo.Reset()
	heapFreeBytes.Set(0)
	heapMaxBlockBytes.Set(0)
}

// RecordAdmission records the outcome of an admission decision.
func RecordAdmission(outcome string) {
	admissionDecisions.WithLabelValues(outcome).Inc()
}

// RecordRejectAbort records a rejected connection that had to be aborted.
func RecordRejectAbort() {
	rejectAborts.Inc()
}

// RecordDispatch records a dispatch and how long the request waited in the queue.
func RecordDispatch(wait time.Duration) {
	dispatches.Inc()
	queueWait.Observe(wait.Seconds())
}

// RecordDeferral records a request being deferred.
func RecordDeferral() {
	deferrals.Inc()
}

// RecordSchedulingPass records the end of a scheduling pass.
func RecordSchedulingPass(stopReason string) {
	schedulingPasses.WithLabelValues(stopReason).Inc()
}

// SetQueueEntries sets the number of queue entries in the given state.
func SetQueueEntries(state string, count int) {
	queueEntries.WithLabelValues(state).Set(float64(count))
}

// RecordHeap records the most recent heap probe readings.
func RecordHeap(freeBytes, maxBlock uint64) {
	heapFreeBytes.Set(float64(freeBytes))
	heapMaxBlockBytes.Set(float64(maxBlock))
}

// RecordAllocationFailure records a failed buffer allocation.
func RecordAllocationFailure(purpose string) {
	allocationFailures.WithLabelValues(purpose).Inc()
}

// RecordResponse records a response sent with the given status code and body size.
func RecordResponse(code int, bodyBytes int) {
	responses.WithLabelValues(strconv.Itoa(code)).Inc()
	responseSizes.Observe(float64(bodyBytes))
}

// RecordRequestLatency records the time from accept to response sent.
func RecordRequestLatency(accepted, sent time.Time) {
	if sent.Before(accepted) {
		return
	}
	requestLatencies.Observe(sent.Sub(accepted).Seconds())
}

// RecordTinyHTTPInfo publishes build information.
func RecordTinyHTTPInfo(commitSha, buildRef string) {
	TinyHTTPInfo.WithLabelValues(commitSha, buildRef).Set(1)
}
