package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadAttackConfig reads and validates an attack_config.toml file.
func LoadAttackConfig(path string) (*AttackConfig, error) {
	var cfg AttackConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding attack config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadTemplaterConfig reads and validates a templater_config.toml file.
func LoadTemplaterConfig(path string) (*TemplaterConfig, error) {
	var cfg TemplaterConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding templater config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDRAMInfo reads a dram_info.toml DIMM catalogue.
func LoadDRAMInfo(path string) (*DRAMInfo, error) {
	var info DRAMInfo
	if _, err := toml.DecodeFile(path, &info); err != nil {
		return nil, fmt.Errorf("config: decoding dram info %s: %w", path, err)
	}
	return &info, nil
}

// WriteFile is a small helper (used by cmd/templater for the template
// file) for writing a freshly generated file without clobbering an
// existing one unless the caller explicitly asks to.
func WriteFile(path string, data []byte, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
