package stream

import "fmt"

// New builds the configured EventBus implementation.
func New(busType BusType, redisCfg RedisStreamsConfig) (EventBus, error) {
	switch busType {
	case BusTypeRedisStreams:
		return NewRedisBus(redisCfg), nil
	case BusTypeStub, "":
		return NewStubBus(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBusType, busType)
	}
}
