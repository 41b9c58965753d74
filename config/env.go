package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix marks environment variables that override config keys.
// KLINGSTAKE_RPC_PORT sets rpc.port; KLINGSTAKE_STAKING_ZERO_REWARD sets
// staking.zero_reward.
const EnvPrefix = "KLINGSTAKE_"

// LoadEnv collects config overrides from the .env file at path (if it
// exists) and the process environment. Process variables win over the file.
func LoadEnv(path string) (map[string]string, error) {
	values := make(map[string]string)

	if path != "" {
		fileEnv, err := godotenv.Read(path)
		switch {
		case err == nil:
			for k, v := range fileEnv {
				if key, ok := envKey(k); ok {
					values[key] = v
				}
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if key, ok := envKey(k); ok {
			values[key] = v
		}
	}
	return values, nil
}

// envKey maps KLINGSTAKE_SECTION_NAME to section.name.
func envKey(name string) (string, bool) {
	if !strings.HasPrefix(name, EnvPrefix) {
		return "", false
	}
	rest := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if rest == "" {
		return "", false
	}
	return strings.Replace(rest, "_", ".", 1), true
}
