package config

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

const envPrefix = "NETPULSE_"

// applyEnv overlays NETPULSE_-prefixed variables onto the config. Double
// underscores nest sections: NETPULSE_SERVER__PORT=9000 sets server.port.
// Values are strings; mapstructure's weak typing coerces them to the
// field types, and comma-separated values populate slices.
func applyEnv(cfg *Config, environ []string) error {
	overlay := make(map[string]any)

	for _, kv := range environ {
		key, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		path := strings.Split(strings.TrimPrefix(key, envPrefix), "__")
		node := overlay
		for i, part := range path {
			part = strings.ToLower(part)
			if i == len(path)-1 {
				node[part] = splitIfList(value)
				break
			}
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
	}

	if len(overlay) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(overlay)
}

// splitIfList turns comma-separated values into a slice so list-typed
// fields (sentinel addrs, template paths) can be set from one variable.
func splitIfList(value string) any {
	if !strings.Contains(value, ",") {
		return value
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
