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

// BillingConfig drives the campaign pipeline. It is reloaded without restart.
type BillingConfig struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Requests  RequestConfig   `mapstructure:"requests"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type PipelineConfig struct {
	// PoolBatchSize is the number of users handled by one generate_invoices job.
	PoolBatchSize int `mapstructure:"poolBatchSize"`
	// RunJobsInline runs newly created jobs in the caller instead of leaving them to the scheduler.
	RunJobsInline bool `mapstructure:"runJobsInline"`
	// AutoPromote promotes a draft pool as soon as its finalize job completes.
	AutoPromote bool `mapstructure:"autoPromote"`
	// EmptyInvoiceForZeroNet keeps an empty draft invoice for payers whose lines net to zero.
	EmptyInvoiceForZeroNet bool `mapstructure:"emptyInvoiceForZeroNet"`
}

type RequestConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"maxRetries"`
}

type SchedulerConfig struct {
	RunInterval       time.Duration `mapstructure:"runInterval"`
	BatchSize         int           `mapstructure:"batchSize"`
	JobTimeout        time.Duration `mapstructure:"jobTimeout"`
	StaleRunningAfter time.Duration `mapstructure:"staleRunningAfter"`
	LockTTL           time.Duration `mapstructure:"lockTTL"`
	EnabledJobs       []string      `mapstructure:"enabledJobs"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Pipeline: PipelineConfig{
			PoolBatchSize:          100,
			RunJobsInline:          false,
			AutoPromote:            false,
			EmptyInvoiceForZeroNet: true,
		},
		Requests: RequestConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Scheduler: SchedulerConfig{
			RunInterval:       30 * time.Second,
			BatchSize:         20,
			JobTimeout:        time.Hour,
			StaleRunningAfter: 2 * time.Hour,
			LockTTL:           2 * time.Hour,
		},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder wraps a fixed configuration, used by tests and tools.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/poolbilling/config") // Volume-mounted config
	v.AddConfigPath("/etc/poolbilling")            // System config
	v.AddConfigPath(".")                           // Current directory (dev mode)

	v.SetEnvPrefix("POOLBILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.pipeline.poolBatchSize", defaults.Pipeline.PoolBatchSize)
	v.SetDefault("billing.pipeline.runJobsInline", defaults.Pipeline.RunJobsInline)
	v.SetDefault("billing.pipeline.autoPromote", defaults.Pipeline.AutoPromote)
	v.SetDefault("billing.pipeline.emptyInvoiceForZeroNet", defaults.Pipeline.EmptyInvoiceForZeroNet)
	v.SetDefault("billing.requests.timeout", defaults.Requests.Timeout)
	v.SetDefault("billing.requests.maxRetries", defaults.Requests.MaxRetries)
	v.SetDefault("billing.scheduler.runInterval", defaults.Scheduler.RunInterval)
	v.SetDefault("billing.scheduler.batchSize", defaults.Scheduler.BatchSize)
	v.SetDefault("billing.scheduler.jobTimeout", defaults.Scheduler.JobTimeout)
	v.SetDefault("billing.scheduler.staleRunningAfter", defaults.Scheduler.StaleRunningAfter)
	v.SetDefault("billing.scheduler.lockTTL", defaults.Scheduler.LockTTL)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.Pipeline.PoolBatchSize <= 0 {
		return errors.New("billing.pipeline.poolBatchSize must be positive")
	}
	if cfg.Requests.Timeout <= 0 {
		return errors.New("billing.requests.timeout must be positive")
	}
	if cfg.Requests.MaxRetries < 0 {
		return errors.New("billing.requests.maxRetries cannot be negative")
	}
	return nil
}
