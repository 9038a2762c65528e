package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReconConfig is the declarative reconciliation configuration: how to query
// the external UPI status endpoint, how to map its response fields, and how
// to read bank CSV exports. New banks/PSPs need only configuration here, not
// code changes.
type ReconConfig struct {
	Status StatusEndpointConfig `mapstructure:"status"`
	CSV    CSVConfig            `mapstructure:"csv"`
	Sweep  SweepConfig          `mapstructure:"sweep"`
}

// StatusEndpointConfig describes the outbound payment-status check.
type StatusEndpointConfig struct {
	URL          string            `mapstructure:"url"`
	Method       string            `mapstructure:"method"`
	Headers      map[string]string `mapstructure:"headers"`
	APIKey       string            `mapstructure:"apiKey"`
	RefParam     string            `mapstructure:"refParam"`
	BodyTemplate string            `mapstructure:"bodyTemplate"`
	Timeout      time.Duration     `mapstructure:"timeout"`

	// Response field mapping: dot/bracket paths into the JSON body.
	StatusPath   string `mapstructure:"statusPath"`
	AmountPath   string `mapstructure:"amountPath"`
	PayeeVPAPath string `mapstructure:"payeeVpaPath"`
	UTRPath      string `mapstructure:"utrPath"`

	// SuccessValues is the set of mapped status strings that count as a
	// confirmed credit.
	SuccessValues []string `mapstructure:"successValues"`

	Interval       time.Duration `mapstructure:"interval"`
	Lookback       time.Duration `mapstructure:"lookback"`
	BatchSize      int           `mapstructure:"batchSize"`
	PerTxnThrottle time.Duration `mapstructure:"perTxnThrottle"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
}

// CSVConfig describes the bank-statement ingestion loop. Column names are
// optional overrides; empty values fall back to header auto-detection.
type CSVConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	AmountCol  string        `mapstructure:"amountCol"`
	VPACol     string        `mapstructure:"vpaCol"`
	RemarksCol string        `mapstructure:"remarksCol"`
	UTRCol     string        `mapstructure:"utrCol"`
}

// SweepConfig controls the stale-transaction sweeper.
type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func DefaultReconConfig() ReconConfig {
	return ReconConfig{
		Status: StatusEndpointConfig{
			Method:         "GET",
			RefParam:       "reference",
			Timeout:        10 * time.Second,
			StatusPath:     "status",
			AmountPath:     "amount",
			PayeeVPAPath:   "payeeVpa",
			UTRPath:        "utr",
			SuccessValues:  []string{"SUCCESS", "COMPLETED", "CREDIT", "CREDITED", "OK"},
			Interval:       10 * time.Second,
			Lookback:       2 * time.Hour,
			BatchSize:      25,
			PerTxnThrottle: 8 * time.Second,
			MaxAttempts:    60,
		},
		CSV: CSVConfig{
			Interval: 10 * time.Minute,
		},
		Sweep: SweepConfig{
			Interval: 10 * time.Minute,
		},
	}
}

// ReconConfigHolder serves the current ReconConfig and hot-reloads it when
// the backing file changes. A reload that fails validation is ignored and
// the previous config stays live.
type ReconConfigHolder struct {
	current atomic.Value // holds ReconConfig
}

func NewReconConfigHolder() (*ReconConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("recon")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/fastag/config")
	v.AddConfigPath("/etc/fastag")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FASTAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReconConfig()
	setReconDefaults(v, defaults)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg ReconConfig
	if err := v.UnmarshalKey("recon", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validateReconConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ReconConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReconConfig
		if err := v.UnmarshalKey("recon", &updated); err != nil {
			log.Printf("[recon-config] reload failed: %v", err)
			return
		}
		updated = updated.withDefaults()
		if err := validateReconConfig(updated); err != nil {
			log.Printf("[recon-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[recon-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticReconHolder wraps a fixed config, used by tests and by callers
// that assemble configuration programmatically.
func NewStaticReconHolder(cfg ReconConfig) *ReconConfigHolder {
	holder := &ReconConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func (h *ReconConfigHolder) Get() ReconConfig {
	return h.current.Load().(ReconConfig)
}

func (c ReconConfig) withDefaults() ReconConfig {
	defaults := DefaultReconConfig()
	if c.Status.Method == "" {
		c.Status.Method = defaults.Status.Method
	}
	if c.Status.RefParam == "" {
		c.Status.RefParam = defaults.Status.RefParam
	}
	if c.Status.Timeout <= 0 {
		c.Status.Timeout = defaults.Status.Timeout
	}
	if c.Status.StatusPath == "" {
		c.Status.StatusPath = defaults.Status.StatusPath
	}
	if c.Status.AmountPath == "" {
		c.Status.AmountPath = defaults.Status.AmountPath
	}
	if c.Status.PayeeVPAPath == "" {
		c.Status.PayeeVPAPath = defaults.Status.PayeeVPAPath
	}
	if c.Status.UTRPath == "" {
		c.Status.UTRPath = defaults.Status.UTRPath
	}
	if len(c.Status.SuccessValues) == 0 {
		c.Status.SuccessValues = defaults.Status.SuccessValues
	}
	if c.Status.Interval <= 0 {
		c.Status.Interval = defaults.Status.Interval
	}
	if c.Status.Lookback <= 0 {
		c.Status.Lookback = defaults.Status.Lookback
	}
	if c.Status.BatchSize <= 0 {
		c.Status.BatchSize = defaults.Status.BatchSize
	}
	if c.Status.PerTxnThrottle <= 0 {
		c.Status.PerTxnThrottle = defaults.Status.PerTxnThrottle
	}
	if c.Status.MaxAttempts <= 0 {
		c.Status.MaxAttempts = defaults.Status.MaxAttempts
	}
	if c.CSV.Interval <= 0 {
		c.CSV.Interval = defaults.CSV.Interval
	}
	if c.Sweep.Interval <= 0 {
		c.Sweep.Interval = defaults.Sweep.Interval
	}
	return c
}

func validateReconConfig(cfg ReconConfig) error {
	method := strings.ToUpper(strings.TrimSpace(cfg.Status.Method))
	if method != "GET" && method != "POST" {
		return errors.New("recon.status.method must be GET or POST")
	}
	if len(cfg.Status.SuccessValues) == 0 {
		return errors.New("recon.status.successValues cannot be empty")
	}
	return nil
}

func setReconDefaults(v *viper.Viper, d ReconConfig) {
	v.SetDefault("recon.status.method", d.Status.Method)
	v.SetDefault("recon.status.refParam", d.Status.RefParam)
	v.SetDefault("recon.status.timeout", d.Status.Timeout)
	v.SetDefault("recon.status.statusPath", d.Status.StatusPath)
	v.SetDefault("recon.status.amountPath", d.Status.AmountPath)
	v.SetDefault("recon.status.payeeVpaPath", d.Status.PayeeVPAPath)
	v.SetDefault("recon.status.utrPath", d.Status.UTRPath)
	v.SetDefault("recon.status.successValues", d.Status.SuccessValues)
	v.SetDefault("recon.status.interval", d.Status.Interval)
	v.SetDefault("recon.status.lookback", d.Status.Lookback)
	v.SetDefault("recon.status.batchSize", d.Status.BatchSize)
	v.SetDefault("recon.status.perTxnThrottle", d.Status.PerTxnThrottle)
	v.SetDefault("recon.status.maxAttempts", d.Status.MaxAttempts)
	v.SetDefault("recon.csv.interval", d.CSV.Interval)
	v.SetDefault("recon.sweep.interval", d.Sweep.Interval)
}
