package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoadOptions controls where profiles are read from
type LoadOptions struct {
	// File is an explicit profiles file. When empty, profiles.yaml is
	// searched for in . and ./config; a missing file is not an error.
	File string
}

// LoadProfiles returns the built-in profiles merged with any profiles file and
// per-profile environment overrides (HERITAGE_<PROFILE>_<SECTION>_<KEY>).
func LoadProfiles(opts LoadOptions) (map[string]Profile, error) {
	overlays, err := readProfilesFile(opts.File)
	if err != nil {
		return nil, err
	}

	builtins := DefaultProfiles()
	loaded := make(map[string]Profile, len(builtins)+len(overlays))

	var build func(name string, visiting map[string]bool) (Profile, error)
	build = func(name string, visiting map[string]bool) (Profile, error) {
		if p, ok := loaded[name]; ok {
			return p, nil
		}
		if visiting[name] {
			return Profile{}, fmt.Errorf("profile %q extends itself through a cycle", name)
		}
		visiting[name] = true

		overlay, fromFile := overlays[name]
		builtin, isBuiltin := builtins[name]

		var parent Profile
		switch {
		case fromFile && extendsOf(overlay) != "":
			parentName := extendsOf(overlay)
			if _, ok := overlays[parentName]; !ok {
				if _, ok := builtins[parentName]; !ok {
					return Profile{}, fmt.Errorf("profile %q extends %w: %q", name, ErrUnknownProfile, parentName)
				}
			}
			p, err := build(parentName, visiting)
			if err != nil {
				return Profile{}, err
			}
			parent = p
		case isBuiltin:
			parent = builtin
		default:
			parent = base(name)
		}

		p, err := layer(parent, overlay, name)
		if err != nil {
			return Profile{}, err
		}
		loaded[name] = p
		return p, nil
	}

	for name := range builtins {
		if _, err := build(name, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	for name := range overlays {
		if name == StubProfile {
			return nil, fmt.Errorf("profile name %q is reserved", StubProfile)
		}
		if _, err := build(name, map[string]bool{}); err != nil {
			return nil, err
		}
	}

	return loaded, nil
}

func readProfilesFile(file string) (map[string]map[string]interface{}, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("profiles")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	overlays := make(map[string]map[string]interface{})
	for name, raw := range v.GetStringMap("profiles") {
		switch entry := raw.(type) {
		case map[string]interface{}:
			overlays[name] = entry
		case nil:
			overlays[name] = map[string]interface{}{}
		default:
			return nil, fmt.Errorf("profile %q must be a mapping, got %T", name, raw)
		}
	}
	return overlays, nil
}

func extendsOf(overlay map[string]interface{}) string {
	s, _ := overlay["extends"].(string)
	return NormalizeName(s)
}

// layer applies the file overlay and the environment on top of parent
func layer(parent Profile, overlay map[string]interface{}, name string) (Profile, error) {
	data, err := yaml.Marshal(parent)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to encode base for profile %q: %w", name, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return Profile{}, fmt.Errorf("failed to seed profile %q: %w", name, err)
	}
	if len(overlay) > 0 {
		if err := v.MergeConfigMap(overlay); err != nil {
			return Profile{}, fmt.Errorf("failed to merge profile %q: %w", name, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix(name))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return Profile{}, fmt.Errorf("unable to decode profile %q: %w", name, err)
	}
	p.Name = name
	return p, nil
}

// EnvPrefix returns the environment prefix for a profile's overrides
func EnvPrefix(name string) string {
	return "HERITAGE_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
