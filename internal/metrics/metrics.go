package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	connections   map[string]int64
	responses     map[string]int64
	failures      map[string]int64
	bytesRelayed  map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[string]int64
	healthStatus  map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	TotalConnections int64                      `json:"total_connections"`
	TotalResponses   int64                      `json:"total_responses"`
	Uptime           time.Duration              `json:"uptime"`
	Upstreams        map[string]UpstreamMetrics `json:"upstreams"`
}

type UpstreamMetrics struct {
	Connections  int64            `json:"connections"`
	Responses    int64            `json:"responses"`
	Failures     int64            `json:"failures"`
	BytesRelayed int64            `json:"bytes_relayed"`
	Healthy      bool             `json:"healthy"`
	ActiveRelays int              `json:"active_relays"`
	EWMAExchange time.Duration    `json:"ewma_exchange"`
	AvgExchange  time.Duration    `json:"avg_exchange"`
	P50Exchange  time.Duration    `json:"p50_exchange"`
	P95Exchange  time.Duration    `json:"p95_exchange"`
	P99Exchange  time.Duration    `json:"p99_exchange"`
	StatusCodes  map[string]int64 `json:"status_codes"`
}

func (m *Metrics) IncrementConnections(upstream string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.connections[upstream]++
}

func (m *Metrics) RecordResponse(upstream string, duration time.Duration, statusCode string, bytes int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responses[upstream]++
	m.bytesRelayed[upstream] += int64(bytes)

	m.responseTimes[upstream] = append(m.responseTimes[upstream], duration)
	if len(m.responseTimes[upstream]) > maxSamples {
		m.responseTimes[upstream] = m.responseTimes[upstream][1:]
	}

	if m.statusCodes[upstream] == nil {
		m.statusCodes[upstream] = make(map[string]int64)
	}
	m.statusCodes[upstream][statusCode]++
}

func (m *Metrics) RecordFailure(upstream string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failures[upstream]++
}

func (m *Metrics) UpdateHealthStatus(upstream string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[upstream] = healthy
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:    time.Since(m.startTime),
		Upstreams: make(map[string]UpstreamMetrics),
	}

	all := make(map[string]bool)
	for _, known := range []map[string]int64{m.connections, m.responses, m.failures} {
		for upstream := range known {
			all[upstream] = true
		}
	}
	for upstream := range m.healthStatus {
		all[upstream] = true
	}

	for upstream := range all {
		snap.TotalConnections += m.connections[upstream]
		snap.TotalResponses += m.responses[upstream]

		um := UpstreamMetrics{
			Connections:  m.connections[upstream],
			Responses:    m.responses[upstream],
			Failures:     m.failures[upstream],
			BytesRelayed: m.bytesRelayed[upstream],
			Healthy:      m.healthStatus[upstream],
			StatusCodes:  make(map[string]int64, len(m.statusCodes[upstream])),
		}
		for code, n := range m.statusCodes[upstream] {
			um.StatusCodes[code] = n
		}

		durations := m.responseTimes[upstream]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			um.AvgExchange = average(sorted)
			um.P50Exchange = percentile(sorted, 0.50)
			um.P95Exchange = percentile(sorted, 0.95)
			um.P99Exchange = percentile(sorted, 0.99)
		}

		snap.Upstreams[upstream] = um
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		connections:   make(map[string]int64),
		responses:     make(map[string]int64),
		failures:      make(map[string]int64),
		bytesRelayed:  make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[string]int64),
		healthStatus:  make(map[string]bool),
		startTime:     time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
