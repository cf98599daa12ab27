package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	return &histogram{
		buckets: defaultBuckets,
		counts:  make([]uint64, len(defaultBuckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	// 大于最后一个桶的值只计入 +Inf，即 count。
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

type cycleKey struct{ status string }

type actionKey struct {
	kind   string
	status string
}

type requestKey struct {
	handler string
	method  string
	code    string
}

// Collector 聚合代理周期、动作与 HTTP 请求的指标，并以 Prometheus 文本格式输出。
type Collector struct {
	mu        sync.Mutex
	cycles    map[cycleKey]uint64
	duration  *histogram
	actions   map[actionKey]uint64
	requests  map[requestKey]uint64
	latency   map[string]*histogram
	dailyTx   float64
	dailyLimit float64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		cycles:   make(map[cycleKey]uint64),
		duration: newHistogram(),
		actions:  make(map[actionKey]uint64),
		requests: make(map[requestKey]uint64),
		latency:  make(map[string]*histogram),
	}
}

var defaultCollector = NewCollector()

// Default 返回进程级的收集器。
func Default() *Collector { return defaultCollector }

// ObserveCycle records a finished cycle.
func (c *Collector) ObserveCycle(status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles[cycleKey{status: status}]++
	c.duration.observe(duration.Seconds())
}

// ObserveAction records a dispatched action and its outcome.
func (c *Collector) ObserveAction(kind, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions[actionKey{kind: kind, status: status}]++
}

// SetQuota records the current daily transaction usage.
func (c *Collector) SetQuota(used, limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dailyTx = float64(used)
	c.dailyLimit = float64(limit)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	hist := c.latency[handler]
	if hist == nil {
		hist = newHistogram()
		c.latency[handler] = hist
	}
	hist.observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, c.Render())
	})
}

// Render 生成当前指标的文本快照。
func (c *Collector) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	header(&b, "crabdao_cycles_total", "counter", "Total number of agent cycles by final status.")
	cycles := make([]cycleKey, 0, len(c.cycles))
	for key := range c.cycles {
		cycles = append(cycles, key)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i].status < cycles[j].status })
	for _, key := range cycles {
		fmt.Fprintf(&b, "crabdao_cycles_total{status=\"%s\"} %d\n", escape(key.status), c.cycles[key])
	}

	header(&b, "crabdao_cycle_duration_seconds", "histogram", "Agent cycle duration in seconds.")
	writeHistogram(&b, "crabdao_cycle_duration_seconds", "", c.duration)

	header(&b, "crabdao_actions_total", "counter", "Total number of dispatched actions by kind and outcome.")
	actions := make([]actionKey, 0, len(c.actions))
	for key := range c.actions {
		actions = append(actions, key)
	}
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].kind == actions[j].kind {
			return actions[i].status < actions[j].status
		}
		return actions[i].kind < actions[j].kind
	})
	for _, key := range actions {
		fmt.Fprintf(&b, "crabdao_actions_total{kind=\"%s\",status=\"%s\"} %d\n",
			escape(key.kind), escape(key.status), c.actions[key])
	}

	header(&b, "crabdao_daily_transactions", "gauge", "Transactions admitted today.")
	fmt.Fprintf(&b, "crabdao_daily_transactions %s\n", formatFloat(c.dailyTx))
	header(&b, "crabdao_daily_transactions_limit", "gauge", "Configured daily transaction limit.")
	fmt.Fprintf(&b, "crabdao_daily_transactions_limit %s\n", formatFloat(c.dailyLimit))

	header(&b, "crabdao_http_requests_total", "counter", "Total number of HTTP requests processed.")
	reqs := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqs = append(reqs, key)
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].handler == reqs[j].handler {
			if reqs[i].method == reqs[j].method {
				return reqs[i].code < reqs[j].code
			}
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].handler < reqs[j].handler
	})
	for _, key := range reqs {
		fmt.Fprintf(&b, "crabdao_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), escape(key.code), c.requests[key])
	}

	header(&b, "crabdao_http_request_duration_seconds", "histogram", "HTTP request duration in seconds.")
	handlers := make([]string, 0, len(c.latency))
	for handler := range c.latency {
		handlers = append(handlers, handler)
	}
	sort.Strings(handlers)
	for _, handler := range handlers {
		writeHistogram(&b, "crabdao_http_request_duration_seconds",
			fmt.Sprintf("handler=\"%s\",", escape(handler)), c.latency[handler])
	}
	return b.String()
}

func header(b *strings.Builder, name, kind, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	for idx, bound := range h.buckets {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%s\"} %d\n", name, labels, formatFloat(bound), h.counts[idx])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, labels, h.count)
	trimmed := strings.TrimSuffix(labels, ",")
	if trimmed != "" {
		trimmed = "{" + trimmed + "}"
	}
	fmt.Fprintf(b, "%s_sum%s %s\n", name, trimmed, formatFloat(h.sum))
	fmt.Fprintf(b, "%s_count%s %d\n", name, trimmed, h.count)
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
