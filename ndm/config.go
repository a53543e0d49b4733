package ndm

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/buckyos/nds/cfg"
	"github.com/buckyos/nds/internal/ndserr"
)

// loadManagerConfig reads <root>/ndn_mgr.json, following the same
// viper load path cfg.Load uses for the process-wide config. A
// missing file is not an error: it produces the single-local-store,
// no-cache default on first access.
func loadManagerConfig(root, mgrID string) (cfg.NDMConfig, error) {
	path := filepath.Join(root, "ndn_mgr.json")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return defaultManagerConfig(root, mgrID), nil
		}
		return cfg.NDMConfig{}, ndserr.Wrap(ndserr.IoError, "read ndn_mgr.json", err)
	}

	var out cfg.NDMConfig
	if err := v.Unmarshal(&out, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return cfg.NDMConfig{}, ndserr.Wrap(ndserr.InvalidData, "decode ndn_mgr.json", err)
	}
	if out.MgrID == "" {
		out.MgrID = mgrID
	}
	if len(out.Stores) == 0 {
		out.Stores = []cfg.StoreConfig{{Root: root}}
	}
	return out, nil
}

func defaultManagerConfig(root, mgrID string) cfg.NDMConfig {
	return cfg.NDMConfig{
		MgrID:  mgrID,
		Stores: []cfg.StoreConfig{{Root: root}},
	}
}
