package cli

import (
	"fmt"
	"log/slog"

	"github.com/notnil/dashsim/canbus"
	"github.com/notnil/dashsim/internal/config"
)

// openBus connects the configured transport. The returned close function
// releases the endpoint and, for loopback, the bus itself.
func openBus(cfg config.BusConfig, logger *slog.Logger) (canbus.Bus, func() error, error) {
	var (
		bus     canbus.Bus
		closeFn func() error
	)
	switch cfg.Driver {
	case "socketcan":
		up, err := canbus.IsInterfaceUp(cfg.Interface)
		if err != nil {
			return nil, nil, fmt.Errorf("checking %s: %w", cfg.Interface, err)
		}
		if !up {
			return nil, nil, fmt.Errorf("interface %s is down (try: dashsim link up %s)", cfg.Interface, cfg.Interface)
		}
		sc, err := canbus.DialSocketCAN(cfg.Interface)
		if err != nil {
			return nil, nil, fmt.Errorf("dialing %s: %w", cfg.Interface, err)
		}
		bus, closeFn = sc, sc.Close
	default:
		lb := canbus.NewLoopbackBus()
		bus, closeFn = lb.Open(), lb.Close
	}

	if cfg.LogFrames {
		bus = canbus.NewLoggedBus(bus, logger, slog.LevelDebug, canbus.LogAll, nil)
	}
	logger.Info("bus opened", "driver", cfg.Driver, "interface", cfg.Interface)
	return bus, closeFn, nil
}
