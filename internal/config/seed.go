package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedDomain is one entry in the optional seed file loaded at startup.
type SeedDomain struct {
	Domain string `yaml:"domain"`
	Tier   int    `yaml:"tier"`
	Notes  string `yaml:"notes"`
}

type seedFile struct {
	Domains []SeedDomain `yaml:"domains"`
}

// LoadSeedDomains parses a YAML seed file of camouflage domains. Hostname
// normalization and duplicate handling are the importer's job; this only
// checks structure.
func LoadSeedDomains(path string) ([]SeedDomain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i, d := range f.Domains {
		if d.Domain == "" {
			return nil, fmt.Errorf("seed file %s: entry %d has no domain", path, i)
		}
		if d.Tier < 0 {
			return nil, fmt.Errorf("seed file %s: entry %q has negative tier", path, d.Domain)
		}
	}
	return f.Domains, nil
}
