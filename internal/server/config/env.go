package config

import "github.com/ilyakaznacheev/cleanenv"

// parseEnv overlays TRIPKEEPER_* environment variables. Unset variables
// leave the current value alone. A malformed value panics, like a broken
// JSON file does.
func parseEnv(config *Config) {
	if err := cleanenv.ReadEnv(config); err != nil {
		panic(err)
	}
}
