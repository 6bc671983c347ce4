package push

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/config"
)

// DefaultMaxBodySize bounds a push body.
const DefaultMaxBodySize = 64 * 1024

// Config holds push receiver configuration.
type Config struct {
	Listen    string
	Endpoints []Endpoint
}

// Endpoint is one resolved push path.
type Endpoint struct {
	Path            string
	Account         string
	Timelines       []command.TimelineType
	Secret          string
	SignatureHeader string
	MaxBodySize     int64
}

// FromConfig converts the push section of the service configuration.
func FromConfig(pc *config.PushConfig) (Config, error) {
	if pc == nil {
		return Config{}, fmt.Errorf("push config is nil")
	}

	cfg := Config{
		Listen:    pc.Listen,
		Endpoints: make([]Endpoint, len(pc.Endpoints)),
	}
	for i, ep := range pc.Endpoints {
		maxBody, err := parseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("push endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}
		header := ep.SignatureHeader
		if header == "" {
			header = config.DefaultSignatureHeader
		}
		cfg.Endpoints[i] = Endpoint{
			Path:            ep.Path,
			Account:         ep.Account,
			Timelines:       ep.TimelineTypes(),
			Secret:          ep.Secret,
			SignatureHeader: header,
			MaxBodySize:     maxBody,
		}
	}
	return cfg, nil
}

// parseMaxBodySize parses "64KB", "1MB" or a byte count.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}} {
		if strings.HasSuffix(upper, unit.suffix) {
			multiplier = unit.mult
			upper = strings.TrimSuffix(upper, unit.suffix)
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	if value > (1<<62)/multiplier {
		return 0, fmt.Errorf("size too large")
	}
	return value * multiplier, nil
}
