package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-slot-scheduling/internal/api"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

// simulate hammers a running api-server with concurrent bookings for the same
// day and checks that no slot was handed out twice.

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	AgentRatio    float64
	ReadRatio     float64
	PatientCount  int
	DaysAhead     int
	WebhookSecret string
}

type DataPool struct {
	Date   string
	Slots  []string
	Phones []string

	mu     sync.Mutex
	booked map[string]int // slot -> successful bookings
}

func (dp *DataPool) RecordBooked(slot string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked[slot]++
}

// DoubleBooked lists slots that were confirmed more than once.
func (dp *DataPool) DoubleBooked() []string {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	var out []string
	for slot, n := range dp.booked {
		if n > 1 {
			out = append(out, slot)
		}
	}
	sort.Strings(out)
	return out
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeRejected
	outcomeError
)

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeRejected:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	WebBooking   OperationMetrics
	AgentBooking OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *logging.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(baseCfg.LogLevel).With("service", "simulate")

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger.Info("simulator starting",
		"duration", cfg.Duration,
		"workers", cfg.Workers,
		"booking", cfg.BookingRatio,
		"agent", cfg.AgentRatio,
		"read", cfg.ReadRatio,
	)

	dataPool, err := newDataPool(cfg)
	if err != nil {
		logger.Error("build data pool", "error", err)
		os.Exit(1)
	}
	logger.Info("data pool ready", "date", dataPool.Date, "slots", len(dataPool.Slots), "patients", len(dataPool.Phones))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	if doubles := sim.PrintReport(); len(doubles) > 0 {
		os.Exit(1)
	}
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:      getDuration("SIM_DURATION", 15*time.Second),
		Workers:       getInt("SIM_WORKERS", 20),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		AgentRatio:    getFloat("SIM_AGENT_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		PatientCount:  getInt("SIM_PATIENTS", 500),
		DaysAhead:     getInt("SIM_DAYS_AHEAD", 1),
		WebhookSecret: base.WebhookSecret,
	}

	total := cfg.BookingRatio + cfg.AgentRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.AgentRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.PatientCount <= 0 {
		return fmt.Errorf("SIM_PATIENTS must be > 0")
	}
	if cfg.DaysAhead < 1 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be >= 1 so the lead time never hides slots")
	}
	return nil
}

func newDataPool(cfg SimConfig) (*DataPool, error) {
	date, err := schedule.AddDays(schedule.Today(schedule.SystemClock{}), cfg.DaysAhead)
	if err != nil {
		return nil, err
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	phones := make([]string, 0, cfg.PatientCount)
	for i := 0; i < cfg.PatientCount; i++ {
		phones = append(phones, fmt.Sprintf("8%09d", faker.Number(0, 999_999_999)))
	}

	return &DataPool{
		Date:   date,
		Slots:  schedule.AllSlots(),
		Phones: phones,
		booked: make(map[string]int),
	}, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doWebBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.AgentRatio:
			s.doAgentBooking(ctx, rng)
		default:
			s.doAvailability(ctx)
		}
	}
}

func (s *Simulator) doWebBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	body, _ := json.Marshal(map[string]any{
		"dateStr":     s.pool.Date,
		"timeStr":     slot,
		"serviceType": "PHYSIOTHERAPY",
		"visitType":   "CLINIC",
		"patientDetails": map[string]string{
			"name":  "Sim Patient",
			"phone": s.pool.Phones[rng.Intn(len(s.pool.Phones))],
		},
	})

	latency, o := s.post(ctx, "/api/appointments", body, nil, slot)
	s.metrics.WebBooking.Record(latency, o)
}

func (s *Simulator) doAgentBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	body, _ := json.Marshal(map[string]string{
		"intent":        "BOOK_APPOINTMENT",
		"date":          s.pool.Date,
		"time":          slot,
		"patient_name":  "Sim Caller",
		"patient_phone": s.pool.Phones[rng.Intn(len(s.pool.Phones))],
	})

	headers := map[string]string{}
	if s.config.WebhookSecret != "" {
		headers["X-Webhook-Signature"] = api.SignPayload(s.config.WebhookSecret, body)
	}

	latency, o := s.post(ctx, "/webhooks/ai-agent", body, headers, slot)
	s.metrics.AgentBooking.Record(latency, o)
}

func (s *Simulator) post(ctx context.Context, path string, body []byte, headers map[string]string, slot string) (time.Duration, outcome) {
	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, outcomeError
	}
	defer resp.Body.Close()

	// The agent webhook answers 200 for rule rejections too, so the body
	// decides.
	var result api.BookingResponse
	_ = json.NewDecoder(resp.Body).Decode(&result)

	switch {
	case result.Success:
		s.pool.RecordBooked(slot)
		return latency, outcomeSuccess
	case result.Error == "SLOT_TAKEN" || result.Error == "SLOT_JUST_TAKEN":
		return latency, outcomeConflict
	case resp.StatusCode < http.StatusInternalServerError:
		return latency, outcomeRejected
	default:
		return latency, outcomeError
	}
}

func (s *Simulator) doAvailability(ctx context.Context) {
	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/slots?date=%s", s.config.APIBaseURL, s.pool.Date), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	o := outcomeError
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			o = outcomeSuccess
		}
	}
	s.metrics.Availability.Record(latency, o)
}

// PrintReport writes the run summary and returns any double-booked slots.
func (s *Simulator) PrintReport() []string {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Date: %s\n", s.pool.Date)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Web booking", &s.metrics.WebBooking)
	printOperationReport("Agent booking", &s.metrics.AgentBooking)
	printOperationReport("Availability", &s.metrics.Availability)

	doubles := s.pool.DoubleBooked()
	if len(doubles) == 0 {
		fmt.Println("Double bookings: none")
	} else {
		fmt.Printf("Double bookings: %d (%s)\n", len(doubles), strings.Join(doubles, ", "))
	}
	return doubles
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
