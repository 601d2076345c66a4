package config

import (
	"fmt"

	"github.com/dmitrijs2005/quickide/internal/flagx"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// parseFile overlays the file named by -c/-config onto cfg. JSON is a subset
// of YAML, so one parser serves both. Keys absent from the file keep their
// current values; durations accept strings such as "30s".
func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return fmt.Errorf("unmarshal config file %s: %w", path, err)
	}
	return nil
}
