package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"recstore/pkg/access"
	"recstore/pkg/common"
	"recstore/pkg/config"
	"recstore/pkg/repository"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"warn" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

var baseCfg = new(struct {
	Config  string    `long:"config" short:"c" env:"RECSTORE_CONFIG" description:"Path to YAML configuration. Searches configs/recstore.yaml and recstore.yaml if not set"`
	DataDir string    `long:"data-dir" env:"DATA_DIR" description:"Data directory of every database. Overrides storage.path"`
	DB      string    `long:"db" short:"d" default:"default" description:"Name of the database to operate on"`
	Log     LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

func main() {
	var parser = flags.NewParser(baseCfg, flags.Default)
	parser.LongDescription = `recstore is a tool for operating on record-store databases.

Databases are declared in a YAML configuration file. A database which is not
declared is opened as an unpartitioned btree without indexes.
`
	addCmd(parser, "put", "Add a record", `
Add a record under a key. Recno, queue and heap databases assign the key, and
ignore the one given.
`, &cmdPut{})
	addCmd(parser, "append", "Append a record to a recno, queue or heap database", "", &cmdAppend{})
	addCmd(parser, "get", "Get the values of a key", "", &cmdGet{})
	addCmd(parser, "del", "Delete every value of a key", "", &cmdDel{})
	addCmd(parser, "update", "Replace every value of a key", "", &cmdUpdate{})
	addCmd(parser, "consume", "Pop the head record of a queue database", "", &cmdConsume{})
	addCmd(parser, "scan", "List records in traversal order", "", &cmdScan{})
	addCmd(parser, "find", "Find records through a secondary index", "", &cmdFind{})
	addCmd(parser, "sync", "Checkpoint the database and its indexes", "", &cmdSync{})
	addCmd(parser, "stats", "Print database statistics", "", &cmdStats{})
	addCmd(parser, "truncate", "Remove every record", "", &cmdTruncate{})
	addCmd(parser, "rebuild-index", "Rebuild or verify secondary indexes", `
Re-derive every secondary index of the database from a scan of its records.
With --check, report missing and stale index entries without modifying them.
`, &cmdRebuildIndex{})
	addCmd(parser, "repartition", "Move records of a partitioned database under new routing", `
Copy every record into partitions of the new routing, then replace the
current partitions with them. Update the database's partition configuration
to match before the database is next opened.
`, &cmdRepartition{})
	addCmd(parser, "bench", "Measure write and read throughput", "", &cmdBench{})

	if _, err := parser.Parse(); err != nil {
		var flagErr, ok = err.(*flags.Error)
		if ok && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func addCmd(parser *flags.Parser, name, short, long string, cmd interface{}) {
	var _, err = parser.AddCommand(name, short, long, cmd)
	must(err, "failed to add command", "name", name)
}

// must logs and exits on a non-nil error.
func must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var fields = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		fields[fmt.Sprintf("%v", extra[i])] = extra[i+1]
	}
	log.WithFields(fields).Fatal(msg)
}

func initLog(cfg LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else if cfg.Format == "text" {
		log.SetFormatter(&log.TextFormatter{})
	} else if cfg.Format == "color" {
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	}

	if lvl, err := log.ParseLevel(cfg.Level); err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
}

// startup initializes logging and resolves the selected database.
func startup() (*config.DatabaseConfig, string) {
	initLog(baseCfg.Log)

	cfg, err := config.Load(baseCfg.Config)
	must(err, "failed to load configuration", "path", baseCfg.Config)

	var dir = cfg.Storage.Path
	if baseCfg.DataDir != "" {
		dir = baseCfg.DataDir
	}
	db, ok := cfg.Database(baseCfg.DB)
	if !ok {
		db = &config.DatabaseConfig{
			Name:        baseCfg.DB,
			Kind:        "btree",
			CacheBudget: cfg.Storage.CacheBudget,
			Compression: cfg.Storage.Compression,
		}
	}
	return db, dir
}

// openRepository opens the selected database. Callers must Dispose it.
func openRepository() (*repository.Repository, access.Kind) {
	db, dir := startup()

	rc, err := db.Repository(dir)
	must(err, "invalid database configuration", "db", db.Name)
	repo, err := repository.Open(rc)
	must(err, "failed to open database", "db", db.Name, "dir", dir)

	return repo, rc.Access.Kind
}

// parseKey maps a command-line key onto the key bytes of kind. Recno and
// queue keys are record numbers, and heap keys are allocation ordinals.
func parseKey(kind access.Kind, s string) ([]byte, error) {
	switch kind {
	case access.Recno, access.Queue, access.Heap:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil || n == 0 {
			return nil, errors.Errorf("%s keys are positive integers, not %q", kind, s)
		}
		if kind == access.Heap {
			return common.HeapRID(n), nil
		}
		return common.RecnoKey(n), nil
	}
	return []byte(s), nil
}

func formatKey(kind access.Kind, key []byte) string {
	var n uint64
	var err error

	switch kind {
	case access.Recno, access.Queue:
		n, err = common.ParseRecno(key)
	case access.Heap:
		n, err = common.ParseHeapRID(key)
	default:
		return string(key)
	}
	if err != nil {
		return fmt.Sprintf("%x", key)
	}
	return strconv.FormatUint(n, 10)
}

func joinArgs(args []string) []byte { return []byte(strings.Join(args, " ")) }
