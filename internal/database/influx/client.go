// Package influx records search and validation metrics as InfluxDB time
// series and queries them back for hash rate history.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/nanowork/internal/engine"
	"github.com/bardlex/nanowork/internal/work"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
	service  string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Service string // tag added to every point
}

// Ensure Client can observe the engine
var _ engine.Observer = (*Client)(nil)

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(500).SetFlushInterval(1000))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
		service:  cfg.Service,
	}, nil
}

// Close flushes pending points and closes the InfluxDB connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Errors returns the channel of asynchronous write errors
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

// Work metrics

// ObserveSearch implements engine.Observer
func (c *Client) ObserveSearch(outcome engine.SearchOutcome) {
	c.writeAPI.WritePoint(searchPoint(c.service, outcome, time.Now()))
}

// ObserveValidation implements engine.Observer
func (c *Client) ObserveValidation(difficulty uint64, valid bool) {
	c.writeAPI.WritePoint(validationPoint(c.service, difficulty, valid, time.Now()))
}

func searchPoint(service string, outcome engine.SearchOutcome, now time.Time) *write.Point {
	tags := map[string]string{
		"service":    service,
		"state":      outcome.State.String(),
		"difficulty": work.FormatThreshold(outcome.Difficulty),
	}

	fields := map[string]any{
		"attempts":    int64(outcome.Attempts),
		"workers":     int64(outcome.Workers),
		"duration_ms": float64(outcome.Duration) / float64(time.Millisecond),
		"hashrate":    hashrate(outcome.Attempts, outcome.Duration),
	}
	if outcome.Value != 0 {
		fields["multiplier"] = work.Multiplier(outcome.Value, outcome.Difficulty)
	}

	return write.NewPoint("work_search", tags, fields, now)
}

func validationPoint(service string, difficulty uint64, valid bool, now time.Time) *write.Point {
	tags := map[string]string{
		"service":    service,
		"difficulty": work.FormatThreshold(difficulty),
		"valid":      strconv.FormatBool(valid),
	}

	fields := map[string]any{
		"count": int64(1),
	}

	return write.NewPoint("work_validation", tags, fields, now)
}

// hashrate returns attempts per second
func hashrate(attempts uint64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(attempts) / d.Seconds()
}

// System metrics

// WriteSystemMetric writes process metrics for the service
func (c *Client) WriteSystemMetric(inFlight int, memoryBytes uint64, goroutines int) {
	tags := map[string]string{
		"service": c.service,
	}

	fields := map[string]any{
		"in_flight":    int64(inFlight),
		"memory_bytes": int64(memoryBytes),
		"goroutines":   int64(goroutines),
	}

	c.writeAPI.WritePoint(write.NewPoint("system", tags, fields, time.Now()))
}

// Query methods

// GetHashrateHistory returns the mean search hash rate per window
func (c *Client) GetHashrateHistory(ctx context.Context, duration, every time.Duration) ([]HashratePoint, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "work_search")
		|> filter(fn: (r) => r.service == "%s")
		|> filter(fn: (r) => r._field == "hashrate")
		|> group()
		|> aggregateWindow(every: %s, fn: mean, createEmpty: false)
	`, c.bucket, duration.String(), c.service, every.String())

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query hashrate history: %w", err)
	}
	defer result.Close()

	var points []HashratePoint
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, HashratePoint{
				Time:     record.Time(),
				Hashrate: value,
			})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}

// GetSearchStats counts searches by final state over a time period
func (c *Client) GetSearchStats(ctx context.Context, duration time.Duration) (*SearchStats, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "work_search")
		|> filter(fn: (r) => r.service == "%s")
		|> filter(fn: (r) => r._field == "attempts")
		|> group(columns: ["state"])
		|> count()
	`, c.bucket, duration.String(), c.service)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query search stats: %w", err)
	}
	defer result.Close()

	stats := &SearchStats{ByState: make(map[string]int64)}
	for result.Next() {
		record := result.Record()
		count, ok := record.Value().(int64)
		if !ok {
			continue
		}
		state, _ := record.ValueByKey("state").(string)
		stats.ByState[state] = count
		stats.Total += count
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return stats, nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Data structures

// HashratePoint represents a hash rate measurement at a point in time
type HashratePoint struct {
	Time     time.Time `json:"time"`
	Hashrate float64   `json:"hashrate"`
}

// SearchStats represents searches grouped by final state
type SearchStats struct {
	Total   int64            `json:"total"`
	ByState map[string]int64 `json:"by_state"`
}
