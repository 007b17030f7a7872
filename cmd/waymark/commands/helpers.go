package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/waymarkhq/waymark/internal/config"
	"github.com/waymarkhq/waymark/internal/printer"
	"github.com/waymarkhq/waymark/internal/resolver"
	"github.com/waymarkhq/waymark/pkg/agentstate"
	"github.com/waymarkhq/waymark/pkg/event"
)

// loadConfig reads the config file named by the global --config flag.
func loadConfig() (*config.WaymarkConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.Error(
			"configuration not found or invalid",
			err.Error(),
			[]string{
				"Create a waymark.yml in the current directory, or point at one:\n  waymark --config path/to/waymark.yml ...",
			},
		)
	}
	return cfg, nil
}

func redisOptions(cfg *config.WaymarkConfig) *redis.Options {
	return &redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	}
}

// eventClient builds an event client for the configured instance.
func eventClient(cfg *config.WaymarkConfig) (*event.Client, error) {
	return event.NewClient(redisOptions(cfg), cfg.Instance)
}

// stateStore builds an agent state store for the configured instance.
func stateStore(cfg *config.WaymarkConfig) (*agentstate.Store, error) {
	return agentstate.NewStore(redisOptions(cfg), cfg.Instance)
}

// resolveEventArg turns a CLI event argument (full UUID or short prefix)
// into a full event ID, rendering a helpful error when it can't.
func resolveEventArg(ctx context.Context, client *event.Client, instance, arg string) (string, error) {
	id, err := resolver.ResolveEventID(ctx, client, arg)
	if err == nil {
		return id, nil
	}

	var ambiguous *resolver.AmbiguousError
	if errors.As(err, &ambiguous) {
		return "", printer.Error(
			"ambiguous event ID",
			resolver.FormatAmbiguousError(ambiguous),
			nil,
		)
	}
	if resolver.IsNotFoundError(err) {
		return "", printer.Error(
			"event not found",
			fmt.Sprintf("No event matching %q in instance '%s'.", arg, instance),
			[]string{"List events to find the right ID:\n  waymark events"},
		)
	}
	return "", err
}
