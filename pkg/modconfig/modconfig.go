// Package modconfig loads the optional static subnet/module address map
// from an ini file into a small typed structure.
package modconfig

import (
	"fmt"
	"strconv"

	"gopkg.in/ini.v1"
)

// SubnetModules is one subnet's well-known module DI addresses.
type SubnetModules struct {
	SCM uint16
	CDM uint16
	MAM uint16
}

// Map is keyed by subnet number.
type Map map[uint16]SubnetModules

// Load parses an ini file of the form:
//
//	[subnet.0]
//	scm = 0
//	cdm = 1
//	mam = 2
func Load(path string) (Map, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("modconfig: load %s: %w", path, err)
	}

	out := make(Map)
	for _, section := range cfg.Sections() {
		var subnet uint16
		if _, err := fmt.Sscanf(section.Name(), "subnet.%d", &subnet); err != nil {
			continue
		}

		mods := SubnetModules{}
		var parseErr error
		mods.SCM, parseErr = parseAddr(section, "scm")
		if parseErr != nil {
			return nil, parseErr
		}
		mods.CDM, parseErr = parseAddr(section, "cdm")
		if parseErr != nil {
			return nil, parseErr
		}
		mods.MAM, parseErr = parseAddr(section, "mam")
		if parseErr != nil {
			return nil, parseErr
		}
		out[subnet] = mods
	}
	return out, nil
}

func parseAddr(section *ini.Section, key string) (uint16, error) {
	if !section.HasKey(key) {
		return 0, fmt.Errorf("modconfig: section %q missing key %q", section.Name(), key)
	}
	v, err := strconv.ParseUint(section.Key(key).String(), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("modconfig: section %q key %q: %w", section.Name(), key, err)
	}
	return uint16(v), nil
}
