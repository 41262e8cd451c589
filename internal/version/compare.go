package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// development is the version string of untagged builds.
const development = "main"

// IsDevelopment reports whether v names an untagged build.
func IsDevelopment(v string) bool {
	return strings.TrimPrefix(v, "v") == development
}

// CheckVersionCompatibility returns an error when a configuration written for configVersion
// cannot be run by engineVersion. Major and minor must match; patch releases are interchangeable
// (engine 1.2.1 runs a 1.2.0 configuration, engine 1.3.0 does not). Development builds on either
// side skip the check.
func CheckVersionCompatibility(engineVersion, configVersion string) error {
	if IsDevelopment(engineVersion) || IsDevelopment(configVersion) {
		return nil
	}

	engine, err := parse("engine", engineVersion)
	if err != nil {
		return err
	}

	config, err := parse("config", configVersion)
	if err != nil {
		return err
	}

	switch {
	case engine.Major() != config.Major():
		return fmt.Errorf("major version mismatch: engine is %d.x.x but configuration requires %d.x.x",
			engine.Major(), config.Major())
	case engine.Minor() != config.Minor():
		return fmt.Errorf("minor version mismatch: engine is %d.%d.x but configuration requires %d.%d.x",
			engine.Major(), engine.Minor(), config.Major(), config.Minor())
	}

	return nil
}

func parse(kind string, v string) (*semver.Version, error) {
	parsed, err := semver.NewVersion(strings.TrimPrefix(v, "v"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s version '%s': %w", kind, v, err)
	}

	return parsed, nil
}
