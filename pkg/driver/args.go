package driver

import "github.com/netpulse/netpulse/pkg/types"

func argString(args types.ConnectionArgs, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// argInt tolerates both int and float64: JSON numbers decode as float64,
// YAML as int.
func argInt(args types.ConnectionArgs, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func argBool(args types.ConnectionArgs, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
