package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
)

// Factory builds a strategy bound to one outbound channel. The manager is
// read-only; durable effects flow through the channel.
type Factory func(
	ctx context.Context,
	manager frontier.Manager,
	channel frontier.ScoreUpdateChannel,
	logger *zap.Logger,
) (frontier.CrawlingStrategy, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a strategy factory available by name. It panics if name is
// empty, factory is nil, or name is already registered.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || factory == nil {
		panic("strategy: Register requires a name and a factory")
	}
	if _, dup := registry[name]; dup {
		panic("strategy: Register called twice for " + name)
	}
	registry[name] = factory
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromWorker constructs the named strategy. Every failure is reported as a
// *frontier.ConfigError so the worker can refuse to start.
func FromWorker(
	ctx context.Context,
	name string,
	manager frontier.Manager,
	channel frontier.ScoreUpdateChannel,
	logger *zap.Logger,
) (frontier.CrawlingStrategy, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &frontier.ConfigError{Strategy: name, Err: fmt.Errorf("unknown strategy (registered: %v)", Names())}
	}
	if channel == nil {
		return nil, &frontier.ConfigError{Strategy: name, Err: errors.New("score update channel is required")}
	}
	if manager == nil {
		return nil, &frontier.ConfigError{Strategy: name, Err: errors.New("manager is required")}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := factory(ctx, manager, channel, logger.Named(name))
	if err != nil {
		var cfgErr *frontier.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, &frontier.ConfigError{Strategy: name, Err: err}
	}
	if s == nil {
		return nil, &frontier.ConfigError{Strategy: name, Err: errors.New("factory returned nil strategy")}
	}
	return s, nil
}
