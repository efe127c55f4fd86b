package config

import "strings"

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// IsProductionLike reports whether env must enforce production configuration requirements.
func IsProductionLike(env string) bool {
	switch strings.ToLower(env) {
	case EnvStaging, EnvProduction:
		return true
	}
	return false
}
