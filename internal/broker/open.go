package broker

import (
	"fmt"

	"github.com/example/docpipe/api-go/internal/config"
)

// NewDialer builds the transport selected by cfg.Kind.
func NewDialer(cfg config.Broker) (Dialer, error) {
	switch cfg.Kind {
	case config.BrokerRedis:
		return NewRedisDialer(cfg.URL)
	case config.BrokerCloudEvents:
		return NewCloudEventsDialer(cfg.URL), nil
	case config.BrokerServiceBus:
		return NewServiceBusDialer(cfg.ServiceBusConnection), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}

// OptionsFrom maps the broker configuration onto publisher options.
func OptionsFrom(cfg config.Broker) Options {
	return Options{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryDelay(),
		Jitter:      cfg.Jitter,
	}
}
