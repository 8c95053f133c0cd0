package cli

import "os"

// Environment fallbacks for the target flags.
const (
	EnvMirrorURL  = "MIRROR_URL"
	EnvClientURL  = "CLIENT_URL"
	EnvClientName = "CLIENT_NAME"
	EnvNamespace  = "CLIENT_NAMESPACE"
)

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}
