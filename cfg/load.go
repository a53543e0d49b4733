package cfg

import (
	"errors"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads a yaml config file at path into a Config seeded with
// Default(). A missing file is not an error — the defaults apply, the
// same auto-initialize-with-defaults-if-missing behavior the manager
// registry uses for its ndn_mgr.json lookup.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) || os.IsNotExist(err) {
			return cfg, nil
		}
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return cfg, nil
		}
		return Config{}, err
	}

	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
