package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Plan maps a recurring provider price to the product it entitles.
type Plan struct {
	Name      string `mapstructure:"name"`
	PriceID   string `mapstructure:"priceId"`
	ProductID string `mapstructure:"productId"`
}

// PlanCatalog is an immutable price id index over the configured plans.
type PlanCatalog struct {
	plans   []Plan
	byPrice map[string]Plan
}

func NewPlanCatalog(plans ...Plan) (PlanCatalog, error) {
	catalog := PlanCatalog{byPrice: make(map[string]Plan, len(plans))}
	for i, plan := range plans {
		plan.Name = strings.TrimSpace(plan.Name)
		plan.PriceID = strings.TrimSpace(plan.PriceID)
		plan.ProductID = strings.TrimSpace(plan.ProductID)
		if plan.PriceID == "" {
			return PlanCatalog{}, fmt.Errorf("plans[%d]: priceId cannot be empty", i)
		}
		if _, dup := catalog.byPrice[plan.PriceID]; dup {
			return PlanCatalog{}, fmt.Errorf("plans[%d]: duplicate priceId %q", i, plan.PriceID)
		}
		catalog.byPrice[plan.PriceID] = plan
		catalog.plans = append(catalog.plans, plan)
	}
	return catalog, nil
}

// PlanByPrice returns the plan billed through priceID.
func (c PlanCatalog) PlanByPrice(priceID string) (Plan, bool) {
	plan, ok := c.byPrice[strings.TrimSpace(priceID)]
	return plan, ok
}

func (c PlanCatalog) HasPlans() bool {
	return len(c.plans) > 0
}

func (c PlanCatalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
}

// NewStaticPlanCatalogHolder wraps a fixed catalog, mostly for tests and tooling.
func NewStaticPlanCatalogHolder(catalog PlanCatalog) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

// NewPlanCatalogHolder loads plans.yml and keeps it fresh while the process runs.
// A missing file yields an empty catalog, which disables the plan checkout path.
func NewPlanCatalogHolder(cfg Config, log *zap.Logger) (*PlanCatalogHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.plans")

	v := viper.New()
	if cfg.PlanCatalogPath != "" {
		v.SetConfigFile(cfg.PlanCatalogPath)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/storefront")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
		log.Warn("plan catalog not found, plan checkouts disabled")
	}

	catalog, err := decodePlanCatalog(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPlanCatalogHolder(catalog)
	if !found {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePlanCatalog(v)
		if err != nil {
			log.Warn("plan catalog reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("plan catalog reloaded", zap.String("file", e.Name), zap.Int("plans", len(updated.plans)))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	return h.current.Load().(PlanCatalog)
}

func (h *PlanCatalogHolder) PlanByPrice(priceID string) (Plan, bool) {
	return h.Get().PlanByPrice(priceID)
}

func (h *PlanCatalogHolder) HasPlans() bool {
	return h.Get().HasPlans()
}

func decodePlanCatalog(v *viper.Viper) (PlanCatalog, error) {
	var plans []Plan
	if err := v.UnmarshalKey("plans", &plans); err != nil {
		return PlanCatalog{}, err
	}
	return NewPlanCatalog(plans...)
}
