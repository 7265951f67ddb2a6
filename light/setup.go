package light

import (
	"time"

	"github.com/lightanchor/anchord/light/provider"
	"github.com/lightanchor/anchord/light/provider/http"
)

// ProvidersFromAddresses builds an HTTP provider.Provider for every RPC
// address given, grounded on light/setup.go's providersFromAddresses.
func ProvidersFromAddresses(addrs []string, chainID string, timeout time.Duration) ([]provider.Provider, error) {
	providers := make([]provider.Provider, len(addrs))
	for idx, address := range addrs {
		p, err := http.New(chainID, address, timeout)
		if err != nil {
			return nil, err
		}
		providers[idx] = p
	}
	return providers, nil
}
