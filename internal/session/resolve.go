package session

import "github.com/matheus3301/chatsync/internal/config"

const DefaultProfileName = "main"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "main"
func Resolve(flagOverride string) string {
	return resolve(flagOverride, ConfigPath())
}

func resolve(flagOverride, configPath string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(configPath)
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfileName
}

// Load resolves, validates and reads the named profile.
func Load(flagOverride string) (string, *config.Profile, error) {
	name := Resolve(flagOverride)
	if err := ValidateName(name); err != nil {
		return name, nil, err
	}
	p, err := config.LoadProfile(ProfilePath(name))
	if err != nil {
		return name, nil, err
	}
	return name, p, nil
}
