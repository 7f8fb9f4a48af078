package main

import (
	"bytes"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"recstore/pkg/access"
	"recstore/pkg/common"
)

type cmdScan struct {
	Prefix string `long:"prefix" short:"p" description:"Only list keys having this prefix"`
	Limit  int    `long:"limit" short:"n" default:"100" description:"Maximum number of records to list. Zero lists all"`
}

func (cmd *cmdScan) Execute([]string) error {
	var repo, kind = openRepository()
	defer repo.Dispose()

	var prefix = []byte(cmd.Prefix)
	var records []common.Record
	for rec := range repo.Find(func(rec common.Record) bool {
		return bytes.HasPrefix(rec.Key, prefix)
	}) {
		records = append(records, rec)
		if cmd.Limit > 0 && len(records) == cmd.Limit {
			break
		}
	}
	writeRecords(kind, records)
	return nil
}

type cmdFind struct {
	Index string `long:"index" short:"i" required:"true" description:"Name of the secondary index"`
	Keys  bool   `long:"keys" description:"List primary keys only"`
	Args  struct {
		Derived string `positional-arg-name:"derived-key"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *cmdFind) Execute([]string) error {
	var repo, kind = openRepository()
	defer repo.Dispose()

	keys, err := repo.FindKeysBySecondary(cmd.Index, []byte(cmd.Args.Derived))
	if err != nil {
		return err
	}
	var records []common.Record
	for _, key := range keys {
		var rec = common.Record{Key: key}
		if !cmd.Keys {
			if rec.Value, err = repo.Get(key); err != nil {
				return err
			}
		}
		records = append(records, rec)
	}
	writeRecords(kind, records)
	return nil
}

func writeRecords(kind access.Kind, records []common.Record) {
	var table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Value", "Size"})

	for _, rec := range records {
		table.Append([]string{
			formatKey(kind, rec.Key),
			string(rec.Value),
			humanize.IBytes(uint64(len(rec.Value))),
		})
	}
	table.Render()
	os.Stdout.WriteString(strconv.Itoa(len(records)) + " records\n")
}
