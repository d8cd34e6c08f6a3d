// hostcfg.go - `.cfg` configuration store: `[Section]` key/value pairs,
// per spec §6's core-to-host configuration interface.
//
// Grounded on spec §6 and `device.Descriptor.ConfigSchema` (spec §3's
// Device.config_schema), using `gopkg.in/ini.v1` (already in the
// teacher's dependency pack, pulled in transitively by the corpus) for
// the actual `[section]\nkey = value` format rather than hand-rolling a
// parser the way rcornwell-S370's configparser does for its own
// device-list syntax - this module's config surface is a much plainer
// key/value file, which is exactly ini.v1's job.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package hostcfg

import (
	"fmt"

	"github.com/intuitionamiga/pccore/internal/device"
	"gopkg.in/ini.v1"
)

// Store is an in-memory `.cfg` file: a set of `[section]` blocks of
// string-valued keys, loaded from or saved to disk.
type Store struct {
	file *ini.File
	path string
}

// New returns an empty store, for building a default configuration
// from scratch (e.g. on first run, before any file exists on disk).
func New() *Store {
	return &Store{file: ini.Empty()}
}

// Load reads path as an ini-syntax `.cfg` file.
func Load(path string) (*Store, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("hostcfg: load %s: %w", path, err)
	}
	return &Store{file: f, path: path}, nil
}

// Save writes the store back to path, or to the path it was Loaded
// from if path is empty.
func (s *Store) Save(path string) error {
	if path == "" {
		path = s.path
	}
	if path == "" {
		return fmt.Errorf("hostcfg: Save called with no path and store was never Loaded from one")
	}
	if err := s.file.SaveTo(path); err != nil {
		return fmt.Errorf("hostcfg: save %s: %w", path, err)
	}
	s.path = path
	return nil
}

// String returns section/key's value, or fallback if unset.
func (s *Store) String(section, key, fallback string) string {
	return s.file.Section(section).Key(key).MustString(fallback)
}

// Int returns section/key's value parsed as an integer, or fallback if
// unset or unparsable.
func (s *Store) Int(section, key string, fallback int) int {
	return s.file.Section(section).Key(key).MustInt(fallback)
}

// Bool returns section/key's value parsed as a boolean, or fallback if
// unset or unparsable.
func (s *Store) Bool(section, key string, fallback bool) bool {
	return s.file.Section(section).Key(key).MustBool(fallback)
}

// Set assigns section/key = value, creating the section if needed.
func (s *Store) Set(section, key, value string) {
	s.file.Section(section).Key(key).SetValue(value)
}

// ValidateAgainst reports every key present under section that isn't
// named in schema (a device's ConfigSchema, spec §3), so a typo'd or
// stale config key surfaces instead of being silently ignored.
func (s *Store) ValidateAgainst(section string, schema map[string]string) []string {
	var unknown []string
	for _, k := range s.file.Section(section).Keys() {
		if _, ok := schema[k.Name()]; !ok {
			unknown = append(unknown, k.Name())
		}
	}
	return unknown
}

// ValidateDevices runs ValidateAgainst for every device in reg that
// declares a ConfigSchema, keyed by the device's InternalName section.
func (s *Store) ValidateDevices(reg *device.Registry) map[string][]string {
	problems := make(map[string][]string)
	for _, desc := range reg.Descriptors() {
		if desc.ConfigSchema == nil {
			continue
		}
		if unknown := s.ValidateAgainst(desc.InternalName, desc.ConfigSchema); len(unknown) > 0 {
			problems[desc.InternalName] = unknown
		}
	}
	return problems
}
