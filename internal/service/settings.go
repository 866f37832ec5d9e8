package service

import (
	"fmt"
	"time"

	"github.com/GoPolymarket/autopilot/internal/config"
	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/shopspring/decimal"
)

// SchedulerConfigFrom derives the scheduler settings from the loaded config.
func SchedulerConfigFrom(c config.SchedulerConfig) SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.Interval = c.Interval()
	if c.WarmupSeconds >= 0 {
		cfg.Warmup = c.Warmup()
	}
	if c.MaxBackoffSeconds > 0 {
		cfg.MaxBackoff = c.MaxBackoff()
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.BaseBackoff = cfg.MaxBackoff
	}
	if c.MaxHealthyErrors > 0 {
		cfg.MaxErrors = c.MaxHealthyErrors
	}
	return cfg
}

// EngineConfigFrom derives the engine settings from the loaded config.
func EngineConfigFrom(c config.ExecutionConfig) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	cfg.Slippage = decimal.NewFromFloat(c.Slippage)
	cfg.InterItemDelay = c.InterItemDelay()
	if c.RebalanceCooldownMinutes > 0 {
		cfg.RebalanceCooldown = c.RebalanceCooldown()
	}
	if c.RebalanceReferenceAmount != "" {
		ref, err := model.ParseAmount(c.RebalanceReferenceAmount)
		if err != nil {
			return EngineConfig{}, fmt.Errorf("execution.rebalance_reference_amount: %w", err)
		}
		cfg.ReferenceAmount = ref
	}
	if c.NoiseFloorPercent >= 0 {
		cfg.NoiseFloor = c.NoiseFloorPercent
	}
	return cfg, nil
}

// ReconfiguredInterval returns the current settings with a new interval.
func ReconfiguredInterval(current SchedulerConfig, minutes int) (SchedulerConfig, error) {
	if minutes < 1 {
		return SchedulerConfig{}, fmt.Errorf("%w: interval must be at least 1 minute", ErrInvalid)
	}
	current.Interval = time.Duration(minutes) * time.Minute
	return current, nil
}
