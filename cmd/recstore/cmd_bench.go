package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"recstore/pkg/common"
	"recstore/pkg/config"
	"recstore/pkg/repository"
)

type cmdBench struct {
	N           int    `long:"n" short:"n" default:"5000" description:"Number of records per run"`
	Kind        string `long:"kind" default:"btree" choice:"hash" choice:"btree" choice:"recno" choice:"queue" choice:"heap" description:"Access method to measure"`
	Compression string `long:"compression" default:"none" choice:"none" choice:"snappy" choice:"lz4" choice:"zstd" description:"Checkpoint value codec"`
	Partitions  int    `long:"partitions" default:"0" description:"Number of hash-routed partitions (hash and btree only)"`
	Keep        bool   `long:"keep" description:"Keep the benchmark database, rather than removing it"`
}

func (cmd *cmdBench) Execute([]string) error {
	initLog(baseCfg.Log)

	dir, err := os.MkdirTemp(baseCfg.DataDir, "recstore-bench-")
	if err != nil {
		return err
	}
	if !cmd.Keep {
		defer os.RemoveAll(dir)
	}

	var db = config.DatabaseConfig{
		Name:         "bench",
		Kind:         cmd.Kind,
		CacheBudget:  8 << 20,
		Compression:  cmd.Compression,
		RecordLength: 16,
		Indexes:      []config.IndexConfig{{Name: "tag", Field: 0, Separator: "|"}},
	}
	if cmd.Kind != "queue" {
		db.RecordLength = 0
	}
	if cmd.Partitions > 0 {
		db.Partition = &config.PartitionConfig{Count: cmd.Partitions}
	}
	rc, err := db.Repository(dir)
	if err != nil {
		return err
	}
	repo, err := repository.Open(rc)
	if err != nil {
		return err
	}
	defer repo.Dispose()

	fmt.Printf("recstore benchmark (N=%s, kind=%s, compression=%s)\n", humanize.Comma(int64(cmd.N)), cmd.Kind, cmd.Compression)
	fmt.Println("---------------------------------------------------")

	var keys = make([][]byte, 0, cmd.N)
	var start = time.Now()
	for i := 0; i < cmd.N; i++ {
		var key = make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(i))

		key, err = repo.Add(common.Record{Key: key, Value: []byte(fmt.Sprintf("t%d|v%d", i%8, i))})
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	report("Put", cmd.N, time.Since(start))

	start = time.Now()
	if err = repo.Save(); err != nil {
		return err
	}
	report("Sync", 1, time.Since(start))

	start = time.Now()
	for _, key := range keys {
		if _, err = repo.Get(key); err != nil {
			return err
		}
	}
	report("Get", cmd.N, time.Since(start))

	start = time.Now()
	var found int
	for t := 0; t != 8; t++ {
		values, err := repo.FindBySecondary("tag", []byte(fmt.Sprintf("t%d", t)))
		if err != nil {
			return err
		}
		found += len(values)
	}
	report("Find", found, time.Since(start))

	fmt.Println("---------------------------------------------------")
	if cmd.Keep {
		fmt.Printf("kept benchmark database in %s\n", dir)
	}
	return nil
}

func report(op string, n int, d time.Duration) {
	var qps = float64(n) / d.Seconds()
	fmt.Printf("   %-5s Time: %v | QPS: %s\n", op, d, humanize.Commaf(float64(int64(qps))))
}
