package retry

import "time"

type PlannerConfig struct {
	Backoff1 time.Duration // default: 30 seconds
	Backoff2 time.Duration // default: 1 minute
	Backoff3 time.Duration // default: 2 minutes
	Backoff4 time.Duration // default: 5 minutes, cap for every later attempt
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Backoff1: 30 * time.Second,
		Backoff2: 1 * time.Minute,
		Backoff3: 2 * time.Minute,
		Backoff4: 5 * time.Minute,
	}
}

// Planner maps an attempt number onto the delay before the next try.
type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	// Лестница не должна убывать: каждый шаг не меньше предыдущего.
	if cfg.Backoff2 < cfg.Backoff1 {
		cfg.Backoff2 = cfg.Backoff1
	}
	if cfg.Backoff3 < cfg.Backoff2 {
		cfg.Backoff3 = cfg.Backoff2
	}
	if cfg.Backoff4 < cfg.Backoff3 {
		cfg.Backoff4 = cfg.Backoff3
	}
	return &Planner{cfg: cfg}
}

// BackoffDelay returns the wait before retrying an entry whose attempt
// counter is attempt (1 right after enqueue).
func (p *Planner) BackoffDelay(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return p.cfg.Backoff1
	case attempt == 2:
		return p.cfg.Backoff2
	case attempt == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
