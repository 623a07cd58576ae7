package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const idempotencyHeader = "Idempotency-Key"

type loadMode string

const (
	modeCheckout       loadMode = "checkout"
	modeCheckoutRefund loadMode = "checkout-refund"
)

// Нагрузочный генератор для HTTP API checkout-сервиса: гоняет сценарии
// checkout (и опционально refund) с заданной конкуррентностью и печатает
// сводку по латентности.
type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	refundRate  int
	productID   string
	qty         int
	userTag     string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type callReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Calls             map[string]callReport `json:"calls"`
}

type callStats struct {
	calls     int64
	success   int64
	failed    int64
	statuses  map[string]int64
	latencies []float64
}

type collector struct {
	mu    sync.Mutex
	calls map[string]*callStats
}

func newCollector() *collector {
	return &collector{calls: make(map[string]*callStats)}
}

// record учитывает вызов; status — HTTP-статус или "error" при сетевом сбое.
func (c *collector) record(name string, latency time.Duration, status string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.calls[name]
	if !found {
		stats = &callStats{statuses: make(map[string]int64)}
		c.calls[name] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.statuses[status]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Calls:           make(map[string]callReport, len(c.calls)),
	}

	if scenario := c.calls["scenario"]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.calls {
		statusesCopy := make(map[string]int64, len(stats.statuses))
		for status, count := range stats.statuses {
			statusesCopy[status] = count
		}
		result.Calls[name] = callReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Statuses:  statusesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string

	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "checkout service base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	flag.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 5m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-refund")
	flag.IntVar(&cfg.refundRate, "refund-rate", 100, "refund probability in percent for checkout-refund mode (0..100)")
	flag.StringVar(&cfg.productID, "product", "p-widget", "product id to order")
	flag.IntVar(&cfg.qty, "qty", 1, "quantity per order line")
	flag.StringVar(&cfg.userTag, "user-tag", "load", "user id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	switch loadMode(strings.TrimSpace(modeValue)) {
	case modeCheckout:
		cfg.mode = modeCheckout
	case modeCheckoutRefund:
		cfg.mode = modeCheckoutRefund
	default:
		return cfg, fmt.Errorf("unsupported mode: %s", modeValue)
	}

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.refundRate < 0 || cfg.refundRate > 100 {
		return cfg, errors.New("refund-rate must be between 0 and 100")
	}
	if cfg.qty <= 0 {
		return cfg, errors.New("qty must be > 0")
	}
	if strings.TrimSpace(cfg.productID) == "" {
		return cfg, errors.New("product is required")
	}
	if strings.TrimSpace(cfg.userTag) == "" {
		return cfg, errors.New("user-tag is required")
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return cfg, errors.New("url is required")
	}

	return cfg, nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout: cfg.timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency * 2,
			MaxIdleConnsPerHost: cfg.concurrency * 2,
		},
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(httpClient, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type checkoutRequest struct {
	UserID string             `json:"user_id"`
	Items  []checkoutItemBody `json:"items"`
}

type checkoutItemBody struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type refundRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func runScenario(client *http.Client, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioOK := true
	defer func() {
		status := "ok"
		if !scenarioOK {
			status = "failed"
		}
		col.record("scenario", time.Since(scenarioStart), status, scenarioOK)
	}()

	userID := fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, index)
	checkoutBody := checkoutRequest{
		UserID: userID,
		Items:  []checkoutItemBody{{ProductID: cfg.productID, Qty: cfg.qty}},
	}

	var order orderResponse
	checkoutKey := fmt.Sprintf("lt-checkout-%s-%d", runID, index)
	if err := doCall(client, "checkout", cfg.baseURL+"/checkout", checkoutBody, checkoutKey, &order, col); err != nil {
		scenarioOK = false
		return err
	}
	if order.OrderID == "" {
		scenarioOK = false
		return errors.New("checkout response returned empty order id")
	}
	if order.Status != "PAID" {
		scenarioOK = false
		return fmt.Errorf("order %s finished in status %s", order.OrderID, order.Status)
	}

	if cfg.mode == modeCheckoutRefund && shouldRefund(index, cfg.refundRate) {
		refundBody := refundRequest{UserID: userID, Reason: "load-refund"}
		refundKey := fmt.Sprintf("lt-refund-%s-%d", runID, index)
		refundURL := cfg.baseURL + "/orders/" + order.OrderID + "/refund"
		if err := doCall(client, "refund", refundURL, refundBody, refundKey, &orderResponse{}, col); err != nil {
			scenarioOK = false
			return err
		}
	}

	return nil
}

// doCall выполняет POST с JSON-телом и ключом идемпотентности, записывает
// латентность и статус в коллектор; не-2xx считается ошибкой.
func doCall(client *http.Client, name, url string, body any, key string, out any, col *collector) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, key)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		col.record(name, time.Since(start), "error", false)
		return fmt.Errorf("%s request failed: %w", name, err)
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	latency := time.Since(start)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	col.record(name, latency, fmt.Sprintf("%d", resp.StatusCode), ok)
	if !ok {
		return fmt.Errorf("%s returned status %d", name, resp.StatusCode)
	}
	if readErr != nil {
		return fmt.Errorf("%s read response: %w", name, readErr)
	}
	return json.Unmarshal(payload, out)
}

func shouldRefund(index, refundRate int) bool {
	if refundRate <= 0 {
		return false
	}
	if refundRate >= 100 {
		return true
	}
	return index%100 < refundRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Calls))
	for name := range result.Calls {
		if name == "scenario" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Calls[name]
		fmt.Printf("%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
