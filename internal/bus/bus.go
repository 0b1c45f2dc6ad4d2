package bus

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/osprey-sim/internal/domain"
)

var (
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus is closed")

	// ErrRunIDRequired is returned when a run ID is missing.
	ErrRunIDRequired = errors.New("runID is required")
)

// New creates a new event bus based on configuration.
// "channel" returns an in-process ChannelBus; "nats" connects to a NATS server.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
