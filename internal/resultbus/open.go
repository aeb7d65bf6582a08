package resultbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/taskrelay/internal/config"
)

// Open returns the Bus selected by cfg.Mode.
func Open(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (Bus, error) {
	switch cfg.Mode {
	case config.BusModeMemory:
		logger.Warn("using in-process result bus; events are not shared between processes")
		return NewMemoryBus(logger), nil
	case config.BusModeRedis, "":
		return NewRedisBus(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown bus mode %q", cfg.Mode)
	}
}
