package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// encode job lifecycle events, and rendition publishing. It coordinates
// concurrent writers via a RWMutex while exposing thread-safe gauges for
// active job and queue depth tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	jobEvents       map[string]uint64
	jobDuration     map[string]time.Duration
	publishAttempts uint64
	publishFailures uint64
	activeJobs      atomic.Int64
	queueDepth      atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		jobEvents:       make(map[string]uint64),
		jobDuration:     make(map[string]time.Duration),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// JobEnqueued records a job entering the encode queue.
func (r *Recorder) JobEnqueued() {
	if r == nil {
		return
	}
	r.incrementJobEvent("enqueued")
}

// JobStarted records the beginning of an encode job and increments the active
// job gauge.
func (r *Recorder) JobStarted() {
	if r == nil {
		return
	}
	r.incrementJobEvent("started")
	r.activeJobs.Add(1)
}

// JobCompleted records a successful encode job with its end-to-end duration
// and decrements the active job gauge.
func (r *Recorder) JobCompleted(duration time.Duration) {
	if r == nil {
		return
	}
	r.observeJobOutcome("ready", duration)
	r.decrementGauge(&r.activeJobs)
}

// JobFailed records a failed encode job with its end-to-end duration and
// decrements the active job gauge, guarding against negative counts when a
// job fails before it starts.
func (r *Recorder) JobFailed(duration time.Duration) {
	if r == nil {
		return
	}
	r.observeJobOutcome("failed", duration)
	r.decrementGauge(&r.activeJobs)
}

func (r *Recorder) incrementJobEvent(event string) {
	r.mu.Lock()
	r.jobEvents[event]++
	r.mu.Unlock()
}

func (r *Recorder) observeJobOutcome(outcome string, duration time.Duration) {
	r.mu.Lock()
	r.jobEvents[outcome]++
	r.jobDuration[outcome] += duration
	r.mu.Unlock()
}

// ObservePublishAttempt records an attempt to publish a rendition set.
func (r *Recorder) ObservePublishAttempt() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.publishAttempts++
	r.mu.Unlock()
}

// ObservePublishFailure records a failed rendition publish. The caller should
// also record the attempt separately.
func (r *Recorder) ObservePublishFailure() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.publishFailures++
	r.mu.Unlock()
}

// SetQueueDepth updates the gauge tracking jobs waiting in the encode queue.
func (r *Recorder) SetQueueDepth(depth int) {
	if r == nil {
		return
	}
	if depth < 0 {
		depth = 0
	}
	r.queueDepth.Store(int64(depth))
}

// ActiveJobs exposes the current gauge of encode jobs being processed.
func (r *Recorder) ActiveJobs() int64 {
	if r == nil {
		return 0
	}
	return r.activeJobs.Load()
}

// QueueDepth exposes the current gauge of jobs waiting in the encode queue.
func (r *Recorder) QueueDepth() int64 {
	if r == nil {
		return 0
	}
	return r.queueDepth.Load()
}

// JobCounts returns a copy of job lifecycle event counters for testing and
// reporting purposes.
func (r *Recorder) JobCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.jobEvents))
	for k, v := range r.jobEvents {
		events[k] = v
	}
	return events
}

// PublishCounts returns the publish attempt and failure counters.
func (r *Recorder) PublishCounts() (attempts, failures uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.publishAttempts, r.publishFailures
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.jobEvents = make(map[string]uint64)
	r.jobDuration = make(map[string]time.Duration)
	r.publishAttempts = 0
	r.publishFailures = 0
	r.activeJobs.Store(0)
	r.queueDepth.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	jobEvents := r.sortedJobEvents()
	jobOutcomes := r.sortedJobOutcomes()

	fmt.Fprintln(w, "# HELP vodflow_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE vodflow_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "vodflow_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP vodflow_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE vodflow_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "vodflow_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP vodflow_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE vodflow_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "vodflow_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP vodflow_encode_jobs_total Encode job lifecycle events by type")
	fmt.Fprintln(w, "# TYPE vodflow_encode_jobs_total counter")
	for _, event := range jobEvents {
		value := r.jobEvents[event]
		fmt.Fprintf(w, "vodflow_encode_jobs_total{event=\"%s\"} %d\n", event, value)
	}

	fmt.Fprintln(w, "# HELP vodflow_encode_job_duration_seconds_sum Cumulative encode job duration in seconds by outcome")
	fmt.Fprintln(w, "# TYPE vodflow_encode_job_duration_seconds_sum counter")
	for _, outcome := range jobOutcomes {
		duration := r.jobDuration[outcome].Seconds()
		fmt.Fprintf(w, "vodflow_encode_job_duration_seconds_sum{outcome=\"%s\"} %f\n", outcome, duration)
	}

	fmt.Fprintln(w, "# HELP vodflow_encode_active_jobs Current number of encode jobs being processed")
	fmt.Fprintln(w, "# TYPE vodflow_encode_active_jobs gauge")
	fmt.Fprintf(w, "vodflow_encode_active_jobs %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP vodflow_encode_queue_depth Current number of jobs waiting in the encode queue")
	fmt.Fprintln(w, "# TYPE vodflow_encode_queue_depth gauge")
	fmt.Fprintf(w, "vodflow_encode_queue_depth %d\n", r.queueDepth.Load())

	fmt.Fprintln(w, "# HELP vodflow_publish_attempts_total Total rendition publish attempts")
	fmt.Fprintln(w, "# TYPE vodflow_publish_attempts_total counter")
	fmt.Fprintf(w, "vodflow_publish_attempts_total %d\n", r.publishAttempts)

	fmt.Fprintln(w, "# HELP vodflow_publish_failures_total Total rendition publish failures")
	fmt.Fprintln(w, "# TYPE vodflow_publish_failures_total counter")
	fmt.Fprintf(w, "vodflow_publish_failures_total %d\n", r.publishFailures)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedJobEvents() []string {
	events := make([]string, 0, len(r.jobEvents))
	for event := range r.jobEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedJobOutcomes() []string {
	outcomes := make([]string, 0, len(r.jobDuration))
	for outcome := range r.jobDuration {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	return outcomes
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
