package config

import "github.com/spf13/viper"

// ViperSettings exposes the viper-resolved configuration (file plus
// MODEGATE_* environment overrides) as the boolean settings lookup the mode
// coordinator consults at construction.
type ViperSettings struct {
	v *viper.Viper
}

// NewViperSettings wraps v; nil uses the global viper instance the CLI
// initializes.
func NewViperSettings(v *viper.Viper) ViperSettings {
	return ViperSettings{v: v}
}

// GetBool returns the configured value for key, or def when unset.
func (s ViperSettings) GetBool(key string, def bool) bool {
	v := s.v
	if v == nil {
		v = viper.GetViper()
	}
	if !v.IsSet(key) {
		return def
	}
	return v.GetBool(key)
}

// StaticSettings derives the coordinator settings from an already-loaded
// Config, for hosts that bypass viper.
type StaticSettings struct {
	Config *Config
}

// GetBool maps the coordinator's settings keys onto Config fields.
func (s StaticSettings) GetBool(key string, def bool) bool {
	if s.Config == nil {
		return def
	}
	switch key {
	case "strict_assertions":
		return s.Config.StrictAssertions
	case "merge_tasks":
		return s.Config.Queue.MergeTasks
	default:
		return def
	}
}
