package config

import (
	"strconv"
	"strings"
)

// Environment variables that override the config file.
const (
	EnvTimeout     = "NBSMOKE_TIMEOUT"
	EnvMaxAttempts = "NBSMOKE_MAX_ATTEMPTS"
	EnvRetryOn     = "NBSMOKE_RETRY_ON"
	EnvJupyter     = "NBSMOKE_JUPYTER"
	EnvKernel      = "NBSMOKE_KERNEL"
	EnvRunDir      = "NBSMOKE_RUN_DIR"
)

// ApplyEnv overlays environment overrides on cfg. Malformed values are
// reported as validation errors and leave the setting unchanged.
func ApplyEnv(cfg Config, environ []string) (Config, []ValidationError) {
	envMap := parseEnviron(environ)
	var errs []ValidationError

	if v, ok := envMap[EnvTimeout]; ok {
		d, err := ParseDuration(v)
		if err != nil {
			errs = append(errs, ValidationError{Key: "timeout", EnvVar: EnvTimeout, Value: v, Message: "not a duration"})
		} else {
			cfg.Timeout = d
		}
	}
	if v, ok := envMap[EnvMaxAttempts]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, ValidationError{Key: "max_attempts", EnvVar: EnvMaxAttempts, Value: v, Message: "not an integer"})
		} else {
			cfg.MaxAttempts = n
		}
	}
	if v, ok := envMap[EnvRetryOn]; ok {
		cfg.RetryOn = v
	}
	if v, ok := envMap[EnvJupyter]; ok && v != "" {
		cfg.Jupyter = v
	}
	if v, ok := envMap[EnvKernel]; ok && v != "" {
		cfg.Kernel = v
	}
	if v, ok := envMap[EnvRunDir]; ok && v != "" {
		cfg.RunDir = expandHome(v)
	}

	return cfg, errs
}

func lookupEnv(environ []string, key string) (string, bool) {
	v, ok := parseEnviron(environ)[key]
	return v, ok
}

// parseEnviron converts an environ slice (["KEY=VALUE", ...]) into a map.
// Values may be empty or contain "="; entries without "=" are skipped.
func parseEnviron(environ []string) map[string]string {
	result := make(map[string]string)
	for _, entry := range environ {
		idx := strings.Index(entry, "=")
		if idx == -1 {
			continue
		}
		result[entry[:idx]] = entry[idx+1:]
	}
	return result
}
