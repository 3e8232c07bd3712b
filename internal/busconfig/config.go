// Package busconfig loads the bus's small configuration surface from the
// environment: the two listen addresses and any PRODUCER_<ID> seed
// entries, per spec.md §4.8/§6.
package busconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"busd/internal/domain"
)

const (
	// DefaultTransportAddress is the ingress listen address when
	// TRANSPORT_ADDRESS is unset.
	DefaultTransportAddress = "0.0.0.0:49152"
	// DefaultControlAddress is the control listen address when
	// CONTROL_ADDRESS is unset.
	DefaultControlAddress = "0.0.0.0:49153"

	producerEnvPrefix = "PRODUCER_"
)

// Config is the Bootstrap collaborator's view of the environment.
type Config struct {
	TransportAddress string
	ControlAddress   string
	Seeds            []domain.ConsumerEntry
}

// Load reads TRANSPORT_ADDRESS and CONTROL_ADDRESS via Viper's
// AutomaticEnv binding, the way the teacher's config.Load sets defaults
// and binds environment overrides, then separately scans os.Environ()
// for PRODUCER_<ID> keys: Viper's flat key space has no way to enumerate
// a dynamic family of prefixed env vars, so that part stays plain stdlib
// (see DESIGN.md).
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("transport_address", DefaultTransportAddress)
	v.SetDefault("control_address", DefaultControlAddress)

	seeds, err := seedsFromEnviron(os.Environ())
	if err != nil {
		return Config{}, err
	}

	return Config{
		TransportAddress: v.GetString("transport_address"),
		ControlAddress:   v.GetString("control_address"),
		Seeds:            seeds,
	}, nil
}

// seedsFromEnviron extracts one seed ConsumerEntry per PRODUCER_<ID>
// environment variable. The id is lowercased per spec.md §4.8 step 3 and
// §9's documented case-folding asymmetry: seed ids are lowercased, but
// control-plane REGISTER ids remain case-sensitive. Each seed starts with
// no subscriptions and the default send timeout.
func seedsFromEnviron(environ []string) ([]domain.ConsumerEntry, error) {
	var seeds []domain.ConsumerEntry
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, producerEnvPrefix) {
			continue
		}
		rawID := strings.TrimPrefix(key, producerEnvPrefix)
		if rawID == "" {
			continue
		}
		id := domain.ConsumerID(strings.ToLower(rawID))
		if err := domain.ValidateConsumerID(id); err != nil {
			return nil, fmt.Errorf("busconfig: %s: %w", key, err)
		}
		endpoint, err := domain.ParseEndpoint(value)
		if err != nil {
			return nil, fmt.Errorf("busconfig: %s: %w", key, err)
		}
		seeds = append(seeds, domain.ConsumerEntry{
			ID:          id,
			Endpoint:    endpoint,
			SendTimeout: domain.DefaultSendTimeout,
		})
	}
	return seeds, nil
}
