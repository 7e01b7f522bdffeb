package cache

import (
	"fmt"
	"log/slog"

	"github.com/mattjoyce/spanlink/internal/config"
)

// Open builds the backend selected in cfg, wrapped with lookup metrics.
func Open(cfg config.CacheConfig, logger *slog.Logger) (Cache, error) {
	var (
		c   Cache
		err error
	)
	switch cfg.Backend {
	case "redis":
		c, err = NewRedis(cfg.URL, logger)
	case "badger":
		c, err = OpenBadger(cfg.Path, logger)
	case "none", "":
		c = Nop{}
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return Instrumented{Cache: c}, nil
}
