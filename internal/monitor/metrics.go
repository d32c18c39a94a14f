package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Metric names scraped from the docsearch /metrics endpoint.
const (
	metricVectorOps      = "docsearch_vectorstore_operations_total"
	metricVectorDuration = "docsearch_vectorstore_operation_duration_seconds"
	metricGoroutines     = "go_goroutines"
	metricResidentMemory = "process_resident_memory_bytes"
	metricStartTime      = "process_start_time_seconds"
)

// Sample is one scrape of a docsearch server.
type Sample struct {
	Time time.Time

	// Healthy and Documents come from /health.
	Healthy   bool
	Documents int

	// Cumulative vector store counters.
	VectorOps      float64
	VectorErrors   float64
	VectorOpsByOp  map[string]float64
	VectorSeconds  float64
	VectorObserved float64

	Goroutines    int
	MemoryBytes   uint64
	StartTimeUnix float64
}

// MetricsClient scrapes a docsearch server.
type MetricsClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewMetricsClient creates a new metrics client. apiKey may be empty.
func NewMetricsClient(baseURL, apiKey string) *MetricsClient {
	return &MetricsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Scrape reads /health and /metrics. An unhealthy server is not an error;
// an unreachable one is.
func (c *MetricsClient) Scrape(ctx context.Context) (Sample, error) {
	s := Sample{Time: time.Now(), VectorOpsByOp: map[string]float64{}}

	healthy, docs, err := c.health(ctx)
	if err != nil {
		return Sample{}, err
	}
	s.Healthy, s.Documents = healthy, docs

	families, err := c.metrics(ctx)
	if err != nil {
		return Sample{}, err
	}
	s.apply(families)
	return s, nil
}

func (c *MetricsClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *MetricsClient) health(ctx context.Context) (bool, int, error) {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return false, 0, err
	}
	defer resp.Body.Close()

	var body struct {
		Status    string `json:"status"`
		Documents int    `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, 0, fmt.Errorf("failed to decode health response: %w", err)
	}
	return resp.StatusCode == http.StatusOK && body.Status == "ok", body.Documents, nil
}

func (c *MetricsClient) metrics(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	resp, err := c.get(ctx, "/metrics")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return ParseMetrics(resp.Body)
}

// ParseMetrics decodes a Prometheus text exposition keyed by family name.
func ParseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	dec := expfmt.NewDecoder(r, expfmt.NewFormat(expfmt.TypeTextPlain))
	families := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		if err := dec.Decode(mf); err != nil {
			if errors.Is(err, io.EOF) {
				return families, nil
			}
			return nil, fmt.Errorf("failed to parse metrics: %w", err)
		}
		families[mf.GetName()] = mf
	}
}

func (s *Sample) apply(families map[string]*dto.MetricFamily) {
	if mf, ok := families[metricVectorOps]; ok {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			s.VectorOps += v
			s.VectorOpsByOp[label(m, "operation")] += v
			if label(m, "result") == "error" {
				s.VectorErrors += v
			}
		}
	}
	if mf, ok := families[metricVectorDuration]; ok {
		for _, m := range mf.GetMetric() {
			s.VectorSeconds += m.GetHistogram().GetSampleSum()
			s.VectorObserved += float64(m.GetHistogram().GetSampleCount())
		}
	}
	if v, ok := gauge(families, metricGoroutines); ok {
		s.Goroutines = int(v)
	}
	if v, ok := gauge(families, metricResidentMemory); ok {
		s.MemoryBytes = uint64(v)
	}
	if v, ok := gauge(families, metricStartTime); ok {
		s.StartTimeUnix = v
	}
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func gauge(families map[string]*dto.MetricFamily, name string) (float64, bool) {
	mf, ok := families[name]
	if !ok || len(mf.GetMetric()) == 0 {
		return 0, false
	}
	return mf.GetMetric()[0].GetGauge().GetValue(), true
}

// Rates are per-minute values derived from two consecutive samples.
type Rates struct {
	OpsPerMin    float64
	ErrorsPerMin float64
	// AvgLatency is the mean vector store operation time in seconds over
	// the interval.
	AvgLatency float64
}

// RatesBetween derives rates from prev to cur. A counter that went
// backwards means the server restarted; the interval is then skipped.
func RatesBetween(prev, cur Sample) Rates {
	elapsed := cur.Time.Sub(prev.Time).Minutes()
	if prev.Time.IsZero() || elapsed <= 0 || cur.VectorOps < prev.VectorOps {
		return Rates{}
	}
	r := Rates{
		OpsPerMin:    (cur.VectorOps - prev.VectorOps) / elapsed,
		ErrorsPerMin: (cur.VectorErrors - prev.VectorErrors) / elapsed,
	}
	if n := cur.VectorObserved - prev.VectorObserved; n > 0 {
		r.AvgLatency = (cur.VectorSeconds - prev.VectorSeconds) / n
	}
	return r
}
