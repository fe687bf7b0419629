package observability

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

type histogram struct {
	buckets []float64
	counts  []uint64
	count   uint64
	sum     float64
}

func newHistogram(buckets []float64) *histogram {
	copyBuckets := make([]float64, len(buckets))
	copy(copyBuckets, buckets)
	return &histogram{
		buckets: copyBuckets,
		counts:  make([]uint64, len(copyBuckets)),
	}
}

func (h *histogram) observe(value float64) {
	if h == nil {
		return
	}
	if value < 0 {
		value = 0
	}
	for idx, bucket := range h.buckets {
		if value <= bucket {
			h.counts[idx]++
			break
		}
	}
	h.count++
	h.sum += value
}

type httpRequestKey struct {
	route  string
	method string
	status string
}

type httpDurationKey struct {
	route  string
	method string
}

type turnKey struct {
	minion  string
	outcome string
}

// Metrics covers the HTTP surface and the turn pipeline. Rendered by hand in
// the Prometheus text exposition format so the binary carries no client
// library.
type Metrics struct {
	mu             sync.RWMutex
	httpRequests   map[httpRequestKey]uint64
	httpDurations  map[httpDurationKey]*histogram
	turns          map[turnKey]uint64
	turnDurations  map[string]*histogram
	providerErrors map[string]uint64
	wsClients      float64
}

func NewMetrics() *Metrics {
	return &Metrics{
		httpRequests:   map[httpRequestKey]uint64{},
		httpDurations:  map[httpDurationKey]*histogram{},
		turns:          map[turnKey]uint64{},
		turnDurations:  map[string]*histogram{},
		providerErrors: map[string]uint64{},
	}
}

func (m *Metrics) ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := httpRequestKey{
		route:  normalizeMetricValue(route, "unknown"),
		method: normalizeMetricValue(strings.ToUpper(strings.TrimSpace(method)), "UNKNOWN"),
		status: normalizeMetricValue(strconv.Itoa(status), "0"),
	}
	durationKey := httpDurationKey{route: key.route, method: key.method}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.httpRequests[key]++
	h, exists := m.httpDurations[durationKey]
	if !exists {
		h = newHistogram(defaultDurationBuckets)
		m.httpDurations[durationKey] = h
	}
	h.observe(duration.Seconds())
}

// ObserveTurn records one completed minion turn. Outcome is one of
// finalized, silent, errored.
func (m *Metrics) ObserveTurn(minion, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	cleanMinion := normalizeMetricValue(minion, "unknown")
	cleanOutcome := normalizeMetricValue(outcome, "unknown")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[turnKey{minion: cleanMinion, outcome: cleanOutcome}]++
	h, exists := m.turnDurations[cleanMinion]
	if !exists {
		h = newHistogram(defaultDurationBuckets)
		m.turnDurations[cleanMinion] = h
	}
	h.observe(duration.Seconds())
}

func (m *Metrics) IncProviderError(minion string) {
	if m == nil {
		return
	}
	cleanMinion := normalizeMetricValue(minion, "unknown")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerErrors[cleanMinion]++
}

func (m *Metrics) SetWSClients(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wsClients = float64(count)
}

func (m *Metrics) Render() string {
	if m == nil {
		return ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var sb strings.Builder

	sb.WriteString("# HELP http_requests_total Total HTTP requests handled by API.\n")
	sb.WriteString("# TYPE http_requests_total counter\n")
	requestKeys := make([]httpRequestKey, 0, len(m.httpRequests))
	for key := range m.httpRequests {
		requestKeys = append(requestKeys, key)
	}
	sort.Slice(requestKeys, func(i, j int) bool {
		if requestKeys[i].route != requestKeys[j].route {
			return requestKeys[i].route < requestKeys[j].route
		}
		if requestKeys[i].method != requestKeys[j].method {
			return requestKeys[i].method < requestKeys[j].method
		}
		return requestKeys[i].status < requestKeys[j].status
	})
	for _, key := range requestKeys {
		labels := map[string]string{
			"route":  key.route,
			"method": key.method,
			"status": key.status,
		}
		sb.WriteString("http_requests_total")
		sb.WriteString(formatLabels(labels))
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatUint(m.httpRequests[key], 10))
		sb.WriteString("\n")
	}

	sb.WriteString("# HELP http_request_duration_seconds HTTP request latency in seconds.\n")
	sb.WriteString("# TYPE http_request_duration_seconds histogram\n")
	durationKeys := make([]httpDurationKey, 0, len(m.httpDurations))
	for key := range m.httpDurations {
		durationKeys = append(durationKeys, key)
	}
	sort.Slice(durationKeys, func(i, j int) bool {
		if durationKeys[i].route != durationKeys[j].route {
			return durationKeys[i].route < durationKeys[j].route
		}
		return durationKeys[i].method < durationKeys[j].method
	})
	for _, key := range durationKeys {
		labels := map[string]string{
			"route":  key.route,
			"method": key.method,
		}
		renderHistogramSeries(&sb, "http_request_duration_seconds", labels, m.httpDurations[key])
	}

	sb.WriteString("# HELP minion_turns_total Completed minion turns by minion and outcome.\n")
	sb.WriteString("# TYPE minion_turns_total counter\n")
	turnKeys := make([]turnKey, 0, len(m.turns))
	for key := range m.turns {
		turnKeys = append(turnKeys, key)
	}
	sort.Slice(turnKeys, func(i, j int) bool {
		if turnKeys[i].minion != turnKeys[j].minion {
			return turnKeys[i].minion < turnKeys[j].minion
		}
		return turnKeys[i].outcome < turnKeys[j].outcome
	})
	for _, key := range turnKeys {
		labels := map[string]string{"minion": key.minion, "outcome": key.outcome}
		sb.WriteString("minion_turns_total")
		sb.WriteString(formatLabels(labels))
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatUint(m.turns[key], 10))
		sb.WriteString("\n")
	}

	sb.WriteString("# HELP minion_turn_duration_seconds Minion turn latency in seconds.\n")
	sb.WriteString("# TYPE minion_turn_duration_seconds histogram\n")
	minions := make([]string, 0, len(m.turnDurations))
	for minion := range m.turnDurations {
		minions = append(minions, minion)
	}
	sort.Strings(minions)
	for _, minion := range minions {
		labels := map[string]string{"minion": minion}
		renderHistogramSeries(&sb, "minion_turn_duration_seconds", labels, m.turnDurations[minion])
	}

	sb.WriteString("# HELP provider_errors_total LLM provider failures by minion.\n")
	sb.WriteString("# TYPE provider_errors_total counter\n")
	errMinions := make([]string, 0, len(m.providerErrors))
	for minion := range m.providerErrors {
		errMinions = append(errMinions, minion)
	}
	sort.Strings(errMinions)
	for _, minion := range errMinions {
		labels := map[string]string{"minion": minion}
		sb.WriteString("provider_errors_total")
		sb.WriteString(formatLabels(labels))
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatUint(m.providerErrors[minion], 10))
		sb.WriteString("\n")
	}

	sb.WriteString("# HELP ws_clients Connected websocket clients.\n")
	sb.WriteString("# TYPE ws_clients gauge\n")
	sb.WriteString("ws_clients ")
	sb.WriteString(strconv.FormatFloat(m.wsClients, 'g', -1, 64))
	sb.WriteString("\n")

	return sb.String()
}

func renderHistogramSeries(sb *strings.Builder, metricName string, labels map[string]string, h *histogram) {
	if sb == nil || h == nil {
		return
	}

	cumulative := uint64(0)
	for idx, bucket := range h.buckets {
		cumulative += h.counts[idx]
		withLE := cloneLabels(labels)
		withLE["le"] = strconv.FormatFloat(bucket, 'g', -1, 64)
		sb.WriteString(metricName)
		sb.WriteString("_bucket")
		sb.WriteString(formatLabels(withLE))
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatUint(cumulative, 10))
		sb.WriteString("\n")
	}

	withInf := cloneLabels(labels)
	withInf["le"] = "+Inf"
	sb.WriteString(metricName)
	sb.WriteString("_bucket")
	sb.WriteString(formatLabels(withInf))
	sb.WriteString(" ")
	sb.WriteString(strconv.FormatUint(h.count, 10))
	sb.WriteString("\n")

	sb.WriteString(metricName)
	sb.WriteString("_sum")
	sb.WriteString(formatLabels(labels))
	sb.WriteString(" ")
	sb.WriteString(strconv.FormatFloat(h.sum, 'g', -1, 64))
	sb.WriteString("\n")

	sb.WriteString(metricName)
	sb.WriteString("_count")
	sb.WriteString(formatLabels(labels))
	sb.WriteString(" ")
	sb.WriteString(strconv.FormatUint(h.count, 10))
	sb.WriteString("\n")
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+`="`+escapeLabelValue(labels[key])+`"`)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func cloneLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for key, value := range labels {
		out[key] = value
	}
	return out
}

func escapeLabelValue(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
	return replacer.Replace(value)
}

func normalizeMetricValue(value, fallback string) string {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return fallback
	}
	return clean
}
