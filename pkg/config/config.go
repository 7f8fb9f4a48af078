package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"recstore/pkg/access"
	"recstore/pkg/index"
	"recstore/pkg/partition"
	"recstore/pkg/repository"
	"recstore/pkg/storage"
)

type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	Databases []DatabaseConfig `yaml:"databases"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`         // Data directory of every database
	CacheBudget int64  `yaml:"cache_budget"` // Bytes, per database
	Compression string `yaml:"compression"`  // none, snappy, lz4 or zstd
}

type DatabaseConfig struct {
	Name         string           `yaml:"name"`
	Kind         string           `yaml:"kind"`
	Creation     string           `yaml:"creation"`
	Duplicates   string           `yaml:"duplicates"`
	RecordLength int              `yaml:"record_length"`
	RecordPad    string           `yaml:"record_pad"`
	BackingText  string           `yaml:"backing_text"`
	CacheBudget  int64            `yaml:"cache_budget"`
	Compression  string           `yaml:"compression"`
	Partition    *PartitionConfig `yaml:"partition"`
	Indexes      []IndexConfig    `yaml:"indexes"`
}

type PartitionConfig struct {
	Boundaries []string `yaml:"boundaries"`
	Count      int      `yaml:"count"` // Hash-routed partitions, if no boundaries
	CacheSize  int      `yaml:"cache_size"`
}

type IndexConfig struct {
	Name      string `yaml:"name"`
	Field     int    `yaml:"field"`
	Separator string `yaml:"separator"`
}

func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Path:        "recstore_data",
			CacheBudget: 8 << 20,
			Compression: "none",
		},
	}

	if configPath == "" {
		for _, p := range []string{"configs/recstore.yaml", "recstore.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "recstore_data"
	}
	if cfg.Storage.CacheBudget <= 0 {
		cfg.Storage.CacheBudget = 8 << 20
	}
	if cfg.Storage.Compression == "" {
		cfg.Storage.Compression = "none"
	}
	for i := range cfg.Databases {
		var db = &cfg.Databases[i]
		if db.Kind == "" {
			db.Kind = "btree"
		}
		if db.CacheBudget <= 0 {
			db.CacheBudget = cfg.Storage.CacheBudget
		}
		if db.Compression == "" {
			db.Compression = cfg.Storage.Compression
		}
		for j := range db.Indexes {
			if db.Indexes[j].Separator == "" {
				db.Indexes[j].Separator = "|"
			}
		}
	}
}

// Database returns the named database, or false.
func (c *Config) Database(name string) (*DatabaseConfig, bool) {
	for i := range c.Databases {
		if c.Databases[i].Name == name {
			return &c.Databases[i], true
		}
	}
	return nil, false
}

// Access builds the access.Config of the database, rooted at dir.
func (d *DatabaseConfig) Access(dir string) (access.Config, error) {
	var out = access.Config{
		Dir:          dir,
		Name:         d.Name,
		CacheBudget:  d.CacheBudget,
		RecordLength: d.RecordLength,
		BackingText:  d.BackingText,
	}
	var err error

	if d.Name == "" {
		return out, errors.New("database name is required")
	}
	if out.Kind, err = access.ParseKind(d.Kind); err != nil {
		return out, errors.WithMessagef(err, "database %s", d.Name)
	}
	if out.Creation, err = access.ParseCreatePolicy(d.Creation); err != nil {
		return out, errors.WithMessagef(err, "database %s", d.Name)
	}
	if out.Duplicates, err = access.ParseDuplicates(d.Duplicates); err != nil {
		return out, errors.WithMessagef(err, "database %s", d.Name)
	}
	if out.Compression, err = storage.ParseCodec(d.Compression); err != nil {
		return out, errors.WithMessagef(err, "database %s", d.Name)
	}
	switch len(d.RecordPad) {
	case 0:
	case 1:
		out.RecordPad = d.RecordPad[0]
	default:
		return out, errors.Errorf("database %s: record_pad must be a single byte", d.Name)
	}
	return out, nil
}

// Router builds the partition Router of the database, or nil if it is not
// partitioned.
func (d *DatabaseConfig) Router() (*partition.Router, error) {
	if d.Partition == nil {
		return nil, nil
	}
	var p = d.Partition

	if len(p.Boundaries) != 0 {
		if p.Count != 0 && p.Count != len(p.Boundaries)+1 {
			return nil, errors.Errorf("database %s: %d boundaries imply %d partitions, not %d",
				d.Name, len(p.Boundaries), len(p.Boundaries)+1, p.Count)
		}
		var keys [][]byte
		for _, b := range p.Boundaries {
			keys = append(keys, []byte(b))
		}
		return partition.NewBoundaryRouter(keys...)
	}
	if p.Count > 0 {
		return partition.NewHashRouter(p.Count)
	}
	return nil, errors.Errorf("database %s: partition requires boundaries or a count", d.Name)
}

// Repository builds the repository.Config of the database, rooted at dir.
func (d *DatabaseConfig) Repository(dir string) (repository.Config, error) {
	var out repository.Config
	var err error

	if out.Access, err = d.Access(dir); err != nil {
		return out, err
	}
	if out.Router, err = d.Router(); err != nil {
		return out, err
	}
	for _, ic := range d.Indexes {
		if ic.Name == "" {
			return out, errors.Errorf("database %s: index name is required", d.Name)
		} else if len(ic.Separator) != 1 {
			return out, errors.Errorf("database %s: index %s separator must be a single byte", d.Name, ic.Name)
		}
		out.Indexes = append(out.Indexes, repository.IndexConfig{
			Name:   ic.Name,
			Derive: index.FieldDeriver(ic.Separator[0], ic.Field),
		})
	}
	return out, nil
}
