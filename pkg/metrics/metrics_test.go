package metrics

import (
	"context"
	"sync"
	"testing"
	"time"
)

// resetMetrics resets the global metrics state for testing
func resetMetrics() {
	// First shutdown any running server
	serverMu.Lock()
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		server = nil
	}
	serverMu.Unlock()

	// Reset registry state
	registryMu.Lock()
	registry = nil
	initialized = false
	registryMu.Unlock()

	// Reset standard metrics - need to use reflection to reset sync.Once
	// For testing, we'll just set them to nil and create new ones
	cacheLookups = nil
	cachePuts = nil
	cacheEvictions = nil
	originInvocations = nil
	compensations = nil
	operationDuration = nil
	lockAcquisitions = nil
	storeErrors = nil

	// Reset the Once - this is a bit of a hack but necessary for testing
	standardMetricsOnce = sync.Once{}
}

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MetricsConfig
		wantErr bool
	}{
		{
			name: "enabled with valid config",
			cfg: MetricsConfig{
				Enabled:   true,
				Port:      19090, // Use different port to avoid conflicts
				Path:      "/metrics",
				Namespace: "test",
			},
			wantErr: false,
		},
		{
			name: "disabled",
			cfg: MetricsConfig{
				Enabled:   false,
				Port:      19091,
				Path:      "/metrics",
				Namespace: "test",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetMetrics()
			defer func() {
				if server != nil {
					ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
					defer cancel()
					_ = Shutdown(ctx)
				}
			}()

			err := Init(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !tt.wantErr {
				if !IsInitialized() {
					t.Error("Init() succeeded but IsInitialized() = false")
				}
				if Registry() == nil {
					t.Error("Init() succeeded but Registry() = nil")
				}
			}

			// Give server time to start if enabled
			if tt.cfg.Enabled {
				time.Sleep(100 * time.Millisecond)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	resetMetrics()
	defer func() {
		if server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			_ = Shutdown(ctx)
		}
	}()

	cfg := MetricsConfig{
		Enabled:   true,
		Port:      19092,
		Path:      "/metrics",
		Namespace: "test",
	}

	// Initialize multiple times
	err1 := Init(cfg)
	err2 := Init(cfg)
	err3 := Init(cfg)

	if err1 != nil {
		t.Errorf("First Init() error = %v", err1)
	}
	if err2 != nil {
		t.Errorf("Second Init() error = %v", err2)
	}
	if err3 != nil {
		t.Errorf("Third Init() error = %v", err3)
	}
}

func TestNewCounter(t *testing.T) {
	resetMetrics()
	cfg := MetricsConfig{Enabled: false, Port: 19093, Path: "/metrics", Namespace: "test"}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tests := []struct {
		name    string
		opts    CounterOpts
		wantErr bool
	}{
		{
			name: "valid counter with labels",
			opts: CounterOpts{
				Namespace: "test",
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Total lookups",
				Labels:    []string{"cache", "result"},
			},
			wantErr: false,
		},
		{
			name: "valid counter without subsystem",
			opts: CounterOpts{
				Namespace: "test",
				Name:      "events_total",
				Help:      "Total events",
				Labels:    []string{},
			},
			wantErr: false,
		},
		{
			name: "invalid metric name",
			opts: CounterOpts{
				Namespace: "test",
				Name:      "123-invalid",
				Help:      "Invalid name",
			},
			wantErr: true,
		},
		{
			name: "invalid label name",
			opts: CounterOpts{
				Namespace: "test",
				Name:      "valid_name",
				Help:      "Invalid label",
				Labels:    []string{"valid", "123-invalid"},
			},
			wantErr: true,
		},
		{
			name: "reserved label name",
			opts: CounterOpts{
				Namespace: "test",
				Name:      "valid_name",
				Help:      "Reserved label",
				Labels:    []string{"__reserved"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter, err := NewCounter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCounter() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && counter == nil {
				t.Error("NewCounter() returned nil counter")
			}

			// Test counter operations if successful
			if counter != nil && len(tt.opts.Labels) > 0 {
				// Create label values matching the number of labels
				labelValues := make([]string, len(tt.opts.Labels))
				for i := range labelValues {
					labelValues[i] = "value"
				}

				counter.Inc(labelValues...)
				counter.Add(5.0, labelValues...)
			}
		})
	}
}

func TestNewCounterDuplicate(t *testing.T) {
	resetMetrics()
	cfg := MetricsConfig{Enabled: false, Port: 19094, Path: "/metrics", Namespace: "test"}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	opts := CounterOpts{
		Namespace: "test",
		Name:      "duplicate_counter",
		Help:      "Duplicate counter",
	}

	// First registration should succeed
	counter1, err := NewCounter(opts)
	if err != nil {
		t.Fatalf("First NewCounter() error = %v", err)
	}
	if counter1 == nil {
		t.Fatal("First NewCounter() returned nil")
	}

	// Second registration should fail
	counter2, err := NewCounter(opts)
	if err == nil {
		t.Error("Second NewCounter() should have failed but succeeded")
	}
	if counter2 != nil {
		t.Error("Second NewCounter() should return nil on error")
	}
}

func TestNewGauge(t *testing.T) {
	resetMetrics()
	cfg := MetricsConfig{Enabled: false, Port: 19095, Path: "/metrics", Namespace: "test"}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	opts := GaugeOpts{
		Namespace: "test",
		Subsystem: "lock",
		Name:      "locks_held",
		Help:      "Currently held distributed locks",
		Labels:    []string{"backend"},
	}

	gauge, err := NewGauge(opts)
	if err != nil {
		t.Fatalf("NewGauge() error = %v", err)
	}
	if gauge == nil {
		t.Fatal("NewGauge() returned nil")
	}

	// Test gauge operations
	gauge.Set(10, "redis")
	gauge.Inc("redis")
	gauge.Dec("redis")
	gauge.Add(5, "redis")
	gauge.Sub(3, "redis")
}

func TestNewHistogram(t *testing.T) {
	resetMetrics()
	cfg := MetricsConfig{Enabled: false, Port: 19096, Path: "/metrics", Namespace: "test"}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tests := []struct {
		name    string
		opts    HistogramOpts
		wantErr bool
	}{
		{
			name: "histogram with custom buckets",
			opts: HistogramOpts{
				Namespace: "test",
				Subsystem: "cache",
				Name:      "operation_duration_seconds",
				Help:      "Operation duration",
				Labels:    []string{"operation"},
				Buckets:   []float64{0.1, 0.5, 1.0, 5.0},
			},
			wantErr: false,
		},
		{
			name: "histogram with default buckets",
			opts: HistogramOpts{
				Namespace: "test",
				Name:      "duration_seconds",
				Help:      "Duration",
				Labels:    []string{},
				Buckets:   nil, // Use defaults
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist, err := NewHistogram(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewHistogram() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && hist == nil {
				t.Error("NewHistogram() returned nil")
			}

			// Test histogram operations if successful
			if hist != nil && len(tt.opts.Labels) > 0 {
				labelValues := make([]string, len(tt.opts.Labels))
				for i := range labelValues {
					labelValues[i] = "value"
				}
				hist.Observe(1.5, labelValues...)
			}
		})
	}
}

func TestInitStandardMetrics(t *testing.T) {
	resetMetrics()
	cfg := MetricsConfig{Enabled: false, Port: 19097, Path: "/metrics", Namespace: "test"}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	err := InitStandardMetrics("test")
	if err != nil {
		t.Fatalf("InitStandardMetrics() error = %v", err)
	}

	// Verify all standard metrics are initialized
	if GetCacheLookups() == nil {
		t.Error("cache lookups metric not initialized")
	}
	if GetCachePuts() == nil {
		t.Error("cache puts metric not initialized")
	}
	if GetCacheEvictions() == nil {
		t.Error("cache evictions metric not initialized")
	}
	if GetOriginInvocations() == nil {
		t.Error("origin invocations metric not initialized")
	}
	if GetCompensations() == nil {
		t.Error("compensations metric not initialized")
	}
	if GetOperationDuration() == nil {
		t.Error("operation duration metric not initialized")
	}
	if GetLockAcquisitions() == nil {
		t.Error("lock acquisitions metric not initialized")
	}
	if GetStoreErrors() == nil {
		t.Error("store errors metric not initialized")
	}

	// Calling again should be idempotent
	err = InitStandardMetrics("test")
	if err != nil {
		t.Errorf("Second InitStandardMetrics() error = %v", err)
	}
}

func TestStandardMetricsRecording(t *testing.T) {
	resetMetrics()
	cfg := MetricsConfig{Enabled: false, Port: 19098, Path: "/metrics", Namespace: "test"}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := InitStandardMetrics("test"); err != nil {
		t.Fatalf("InitStandardMetrics() error = %v", err)
	}

	// Exercise each collector with its label scheme
	GetCacheLookups().Inc("users", ResultHit)
	GetCacheLookups().Inc("users", ResultMiss)
	GetCachePuts().Inc("users")
	GetCacheEvictions().Inc("users", ScopeKey)
	GetCacheEvictions().Inc("users", ScopeNamespace)
	GetOriginInvocations().Inc("users", ModeLocked)
	GetOriginInvocations().Inc("users", ModeUnlocked)
	GetOriginInvocations().Inc("users", ModeBypass)
	GetCompensations().Inc("users")
	GetOperationDuration().Observe(0.012, "cacheable")
	GetLockAcquisitions().Inc(OutcomeAcquired)
	GetLockAcquisitions().Inc(OutcomeTimeout)
	GetStoreErrors().Inc("get")

	// Verify the counters surfaced in the registry
	families, err := Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := map[string]bool{}
	for _, fam := range families {
		found[fam.GetName()] = true
	}

	want := []string{
		"test_cache_lookups_total",
		"test_cache_puts_total",
		"test_cache_evictions_total",
		"test_cache_origin_invocations_total",
		"test_cache_compensations_total",
		"test_cache_operation_duration_seconds",
		"test_lock_acquisitions_total",
		"test_store_errors_total",
	}
	for _, name := range want {
		if !found[name] {
			t.Errorf("metric family %s not found in registry", name)
		}
	}
}

func TestValidateMetricOpts(t *testing.T) {
	tests := []struct {
		name       string
		namespace  string
		subsystem  string
		metricName string
		labels     []string
		wantErr    bool
	}{
		{
			name:       "valid metric",
			namespace:  "test",
			subsystem:  "cache",
			metricName: "lookups_total",
			labels:     []string{"cache", "result"},
			wantErr:    false,
		},
		{
			name:       "valid metric without subsystem",
			namespace:  "test",
			subsystem:  "",
			metricName: "events",
			labels:     []string{},
			wantErr:    false,
		},
		{
			name:       "invalid metric name starting with number",
			namespace:  "",
			subsystem:  "",
			metricName: "123invalid",
			labels:     []string{},
			wantErr:    true,
		},
		{
			name:       "invalid label name",
			namespace:  "test",
			subsystem:  "",
			metricName: "valid",
			labels:     []string{"valid", "123invalid"},
			wantErr:    true,
		},
		{
			name:       "reserved label name",
			namespace:  "test",
			subsystem:  "",
			metricName: "valid",
			labels:     []string{"__reserved"},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMetricOpts(tt.namespace, tt.subsystem, tt.metricName, tt.labels)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateMetricOpts() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()

	if !cfg.Enabled {
		t.Error("DefaultMetricsConfig() Enabled = false, want true")
	}
	if cfg.Port != 9090 {
		t.Errorf("DefaultMetricsConfig() Port = %d, want 9090", cfg.Port)
	}
	if cfg.Path != "/metrics" {
		t.Errorf("DefaultMetricsConfig() Path = %q, want %q", cfg.Path, "/metrics")
	}
	if cfg.Namespace != "cqcache" {
		t.Errorf("DefaultMetricsConfig() Namespace = %q, want %q", cfg.Namespace, "cqcache")
	}
}

func TestWithLabelValues(t *testing.T) {
	resetMetrics()
	cfg := MetricsConfig{Enabled: false, Port: 19103, Path: "/metrics", Namespace: "test"}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	// Test Counter.WithLabelValues
	counter, err := NewCounter(CounterOpts{
		Namespace: "test",
		Name:      "counter_with_labels",
		Help:      "Test counter",
		Labels:    []string{"label1"},
	})
	if err != nil {
		t.Fatalf("NewCounter() error = %v", err)
	}

	c := counter.WithLabelValues("value1")
	c.Inc()
	c.Add(5)

	// Test Gauge.WithLabelValues
	gauge, err := NewGauge(GaugeOpts{
		Namespace: "test",
		Name:      "gauge_with_labels",
		Help:      "Test gauge",
		Labels:    []string{"label1"},
	})
	if err != nil {
		t.Fatalf("NewGauge() error = %v", err)
	}

	g := gauge.WithLabelValues("value1")
	g.Set(10)
	g.Inc()
	g.Dec()

	// Test Histogram.WithLabelValues
	hist, err := NewHistogram(HistogramOpts{
		Namespace: "test",
		Name:      "histogram_with_labels",
		Help:      "Test histogram",
		Labels:    []string{"label1"},
	})
	if err != nil {
		t.Fatalf("NewHistogram() error = %v", err)
	}

	h := hist.WithLabelValues("value1")
	h.Observe(1.5)
	h.Observe(2.5)
}

func TestMetricsBeforeInit(t *testing.T) {
	resetMetrics()

	// Try to create metrics before Init
	_, err := NewCounter(CounterOpts{
		Namespace: "test",
		Name:      "counter",
		Help:      "Test",
	})
	if err == nil {
		t.Error("NewCounter() before Init() should return error")
	}

	_, err = NewGauge(GaugeOpts{
		Namespace: "test",
		Name:      "gauge",
		Help:      "Test",
	})
	if err == nil {
		t.Error("NewGauge() before Init() should return error")
	}

	_, err = NewHistogram(HistogramOpts{
		Namespace: "test",
		Name:      "histogram",
		Help:      "Test",
	})
	if err == nil {
		t.Error("NewHistogram() before Init() should return error")
	}
}

func TestShutdown(t *testing.T) {
	resetMetrics()
	cfg := MetricsConfig{Enabled: true, Port: 19102, Path: "/metrics", Namespace: "test"}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := Shutdown(ctx)
	if err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	// Calling shutdown again should be safe
	err = Shutdown(ctx)
	if err != nil {
		t.Errorf("Second Shutdown() error = %v", err)
	}
}
