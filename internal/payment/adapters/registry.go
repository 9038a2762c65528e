package adapters

import (
	"strings"

	"github.com/fleetsutra/fastag/internal/payment/domain"
)

type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		channel := strings.ToLower(strings.TrimSpace(factory.Channel()))
		if channel == "" {
			continue
		}
		registry.factories[channel] = factory
	}
	return registry
}

func (r *Registry) ChannelExists(channel string) bool {
	if r == nil {
		return false
	}
	channel = strings.ToLower(strings.TrimSpace(channel))
	_, ok := r.factories[channel]
	return ok
}

func (r *Registry) NewAdapter(channel string, cfg domain.AdapterConfig) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrChannelNotFound
	}
	channel = strings.ToLower(strings.TrimSpace(channel))
	factory, ok := r.factories[channel]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	return factory.NewAdapter(cfg)
}
