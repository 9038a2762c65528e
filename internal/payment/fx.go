package payment

import (
	"strings"

	"github.com/fleetsutra/fastag/internal/config"
	"github.com/fleetsutra/fastag/internal/payment/adapters"
	"github.com/fleetsutra/fastag/internal/payment/adapters/bankupi"
	"github.com/fleetsutra/fastag/internal/payment/adapters/razorpay"
	"github.com/fleetsutra/fastag/internal/payment/domain"
	"github.com/fleetsutra/fastag/internal/payment/intake"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(
		NewRegistry,
		NewAdapterSet,
		intake.NewService,
	),
)

func NewRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		razorpay.NewFactory(),
		bankupi.NewFactory(),
	)
}

// AdapterSet holds the adapters for channels that have credentials
// configured. Unconfigured channels stay absent and their webhooks are
// rejected.
type AdapterSet struct {
	byChannel map[string]domain.Adapter
}

func NewAdapterSet(cfg config.Config, registry *adapters.Registry) (*AdapterSet, error) {
	set := &AdapterSet{byChannel: map[string]domain.Adapter{}}

	secrets := map[string]string{
		domain.ChannelRazorpay: cfg.Razorpay.WebhookSecret,
		domain.ChannelBankUPI:  cfg.UPI.WebhookSecret,
	}
	for channel, secret := range secrets {
		if strings.TrimSpace(secret) == "" {
			continue
		}
		adapter, err := registry.NewAdapter(channel, domain.AdapterConfig{
			Config: map[string]any{"webhook_secret": secret},
		})
		if err != nil {
			return nil, err
		}
		set.byChannel[channel] = adapter
	}
	return set, nil
}

// ForChannel returns the adapter for a channel, or ErrChannelNotFound when
// the channel has no credentials configured.
func (s *AdapterSet) ForChannel(channel string) (domain.Adapter, error) {
	adapter, ok := s.byChannel[strings.ToLower(strings.TrimSpace(channel))]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	return adapter, nil
}
