package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"recstore/pkg/partition"
)

type cmdSync struct{}

func (cmd *cmdSync) Execute([]string) error {
	var repo, _ = openRepository()
	defer repo.Dispose()
	return repo.Save()
}

type cmdStats struct{}

func (cmd *cmdStats) Execute([]string) error {
	var repo, _ = openRepository()
	defer repo.Dispose()

	var table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Database", "Kind", "Records", "Pending", "WAL", "Hits", "Misses", "Syncs"})

	for _, s := range repo.DatabaseStats() {
		var wal = "-"
		if size, ok := s["wal_size_bytes"].(int64); ok {
			wal = humanize.IBytes(uint64(size))
		}
		table.Append([]string{
			fmt.Sprint(s["name"]),
			fmt.Sprint(s["kind"]),
			humanize.Comma(int64(s["records"].(int))),
			fmt.Sprint(s["pending"]),
			wal,
			fmt.Sprint(s["hits"]),
			fmt.Sprint(s["misses"]),
			fmt.Sprint(s["syncs"]),
		})
	}
	table.Render()

	var stats = repo.Stats()
	var indexes = stats["indexes"].(map[string]interface{})
	var names = make([]string, 0, len(indexes))
	for name := range indexes {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%s: %s records in %d partitions\n",
		repo.Name(), humanize.Comma(int64(stats["records"].(int))), stats["partitions"])
	for _, name := range names {
		fmt.Printf("  index %s: %s entries\n", name, humanize.Comma(int64(indexes[name].(int))))
	}
	return nil
}

type cmdRebuildIndex struct {
	Check bool `long:"check" description:"Only verify indexes against the database"`
}

func (cmd *cmdRebuildIndex) Execute([]string) error {
	var repo, _ = openRepository()
	defer repo.Dispose()

	if !cmd.Check {
		return repo.RebuildIndexes()
	}

	var drifted bool
	for name := range repo.Stats()["indexes"].(map[string]interface{}) {
		idx, err := repo.Index(name)
		if err != nil {
			return err
		}
		missing, stale, err := idx.Verify()
		if err != nil {
			return err
		}
		fmt.Printf("index %s: %d missing, %d stale\n", name, missing, stale)
		drifted = drifted || missing != 0 || stale != 0
	}
	if drifted {
		return errors.New("indexes have drifted; run rebuild-index without --check")
	}
	return nil
}

type cmdRepartition struct {
	Boundaries []string `long:"boundary" short:"b" description:"Boundary key of the new routing. Repeat for each boundary"`
	Count      int      `long:"count" description:"Number of hash-routed partitions, if no boundaries are given"`
}

func (cmd *cmdRepartition) Execute([]string) error {
	var router *partition.Router
	var err error

	if len(cmd.Boundaries) != 0 {
		var keys [][]byte
		for _, b := range cmd.Boundaries {
			keys = append(keys, []byte(b))
		}
		router, err = partition.NewBoundaryRouter(keys...)
	} else if cmd.Count > 0 {
		router, err = partition.NewHashRouter(cmd.Count)
	} else {
		err = errors.New("expected --boundary or --count")
	}
	if err != nil {
		return err
	}

	var repo, _ = openRepository()
	defer repo.Dispose()

	if err = repo.Repartition(router); err != nil {
		return err
	}
	log.WithFields(log.Fields{"db": repo.Name(), "partitions": router.Partitions()}).
		Warn("repartitioned; update the database's partition configuration to match")
	return nil
}
