// Package ratelimit coordinates request budgets for external providers across engine replicas.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultWindowSize = time.Minute
	DefaultBaseDelay  = 100 * time.Millisecond
	DefaultMaxDelay   = 10 * time.Second
)

// ErrBudgetExhausted is returned by Wait when the budget stays exhausted past MaxWait
var ErrBudgetExhausted = errors.New("provider request budget exhausted")

// consumeScript checks and increments the total and pool counters atomically
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local cost = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + cost > totalBudget or poolUsed + cost > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, cost)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, cost)
	redis.call('EXPIRE', poolKey, ttl)
	return {1, totalUsed + cost, poolUsed + cost}
`)

// Budget is a fixed-window request budget for one provider, shared through Redis.
// Interactive calls draw from a reserved pool so background jobs cannot starve trades.
type Budget struct {
	redis     redis.Cmdable
	provider  string
	total     int
	reserved  int
	window    time.Duration
	baseDelay time.Duration
	maxDelay  time.Duration
	maxWait   time.Duration
	now       func() time.Time
}

// BudgetConfig holds configuration for a provider budget.
type BudgetConfig struct {
	// Redis is required.
	Redis redis.Cmdable

	// Provider names the budget in Redis keys.
	Provider string

	// Total is the number of requests allowed per window.
	Total int

	// Reserved is the part of Total only interactive calls may use.
	Reserved int

	// Window defaults to one minute.
	Window time.Duration

	// MaxWait bounds how long Wait blocks. Zero waits until the context ends.
	MaxWait time.Duration
}

// Usage is the consumption of the current window.
type Usage struct {
	Provider       string    `json:"provider"`
	TotalUsed      int       `json:"totalUsed"`
	ReservedUsed   int       `json:"reservedUsed"`
	SharedUsed     int       `json:"sharedUsed"`
	TotalBudget    int       `json:"totalBudget"`
	ReservedBudget int       `json:"reservedBudget"`
	WindowStart    time.Time `json:"windowStart"`
}

// Validate checks if the configuration is valid.
func (c *BudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Provider == "" {
		return errors.New("provider name is required")
	}
	if c.Total <= 0 {
		return fmt.Errorf("total budget must be positive, got %d", c.Total)
	}
	if c.Reserved < 0 || c.Reserved > c.Total {
		return fmt.Errorf("reserved budget (%d) must be between 0 and total budget (%d)", c.Reserved, c.Total)
	}
	return nil
}

// NewBudget creates a budget with the given configuration.
func NewBudget(cfg *BudgetConfig) (*Budget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget configuration: %w", err)
	}

	window := cfg.Window
	if window <= 0 {
		window = DefaultWindowSize
	}
	return &Budget{
		redis:     cfg.Redis,
		provider:  cfg.Provider,
		total:     cfg.Total,
		reserved:  cfg.Reserved,
		window:    window,
		baseDelay: DefaultBaseDelay,
		maxDelay:  DefaultMaxDelay,
		maxWait:   cfg.MaxWait,
		now:       time.Now,
	}, nil
}

func (b *Budget) windowStart() time.Time {
	return b.now().Truncate(b.window)
}

func (b *Budget) keys(start time.Time) (total, reserved, shared string) {
	ts := strconv.FormatInt(start.UnixMilli(), 10)
	prefix := "budget:" + b.provider + ":"
	return prefix + "total:" + ts, prefix + "reserved:" + ts, prefix + "shared:" + ts
}

// TryConsume takes cost requests from the pool of priority.
// It returns false with the time until the next window when the pool is exhausted.
// A Redis failure denies the request.
func (b *Budget) TryConsume(ctx context.Context, cost int, priority Priority) (bool, time.Duration) {
	if cost <= 0 {
		return true, 0
	}

	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)

	// interactive calls fall back to the shared pool once the reserve is spent
	if priority == PriorityInteractive && b.consume(ctx, totalKey, reservedKey, cost, b.reserved) {
		return true, 0
	}
	if b.consume(ctx, totalKey, sharedKey, cost, b.total-b.reserved) {
		return true, 0
	}
	return false, b.untilNextWindow(start)
}

func (b *Budget) consume(ctx context.Context, totalKey, poolKey string, cost, poolBudget int) bool {
	if poolBudget < cost {
		return false
	}
	ttl := int((2 * b.window).Seconds())
	if ttl < 1 {
		ttl = 1
	}
	result, err := consumeScript.Run(ctx, b.redis, []string{totalKey, poolKey}, cost, b.total, poolBudget, ttl).Int64Slice()
	if err != nil || len(result) == 0 {
		return false
	}
	return result[0] == 1
}

func (b *Budget) untilNextWindow(start time.Time) time.Duration {
	wait := start.Add(b.window).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Wait blocks until cost requests are granted at the priority carried by ctx.
// Repeated denials back off exponentially up to the window boundary.
func (b *Budget) Wait(ctx context.Context, cost int) error {
	if cost <= 0 {
		return nil
	}
	priority := PriorityFromContext(ctx)

	var deadline <-chan time.Time
	if b.maxWait > 0 {
		timer := time.NewTimer(b.maxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	delay := b.baseDelay
	for {
		allowed, untilWindow := b.TryConsume(ctx, cost, priority)
		if allowed {
			return nil
		}

		wait := delay
		if untilWindow < wait {
			wait = untilWindow
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w: %s", ErrBudgetExhausted, b.provider)
		case <-time.After(wait):
		}

		delay *= 2
		if delay > b.maxDelay {
			delay = b.maxDelay
		}
	}
}

// Usage reports the current window's consumption.
func (b *Budget) Usage(ctx context.Context) (*Usage, error) {
	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)

	pipe := b.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read budget usage: %w", err)
	}

	return &Usage{
		Provider:       b.provider,
		TotalUsed:      intOrZero(totalCmd),
		ReservedUsed:   intOrZero(reservedCmd),
		SharedUsed:     intOrZero(sharedCmd),
		TotalBudget:    b.total,
		ReservedBudget: b.reserved,
		WindowStart:    start,
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	v, err := cmd.Int()
	if err != nil {
		return 0
	}
	return v
}
