package main

import (
	"fmt"

	"recstore/pkg/common"
)

type cmdPut struct {
	Args struct {
		Key   string   `positional-arg-name:"key"`
		Value []string `positional-arg-name:"value"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *cmdPut) Execute([]string) error {
	var repo, kind = openRepository()
	defer repo.Dispose()

	key, err := parseKey(kind, cmd.Args.Key)
	if err != nil {
		return err
	}
	if key, err = repo.Add(common.Record{Key: key, Value: joinArgs(cmd.Args.Value)}); err != nil {
		return err
	}
	fmt.Println(formatKey(kind, key))
	return nil
}

type cmdAppend struct {
	Args struct {
		Value []string `positional-arg-name:"value"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *cmdAppend) Execute([]string) error {
	var repo, kind = openRepository()
	defer repo.Dispose()

	key, err := repo.Add(common.Record{Value: joinArgs(cmd.Args.Value)})
	if err != nil {
		return err
	}
	fmt.Println(formatKey(kind, key))
	return nil
}

type cmdGet struct {
	All  bool `long:"all" short:"a" description:"Print every duplicate, not only the first"`
	Args struct {
		Key string `positional-arg-name:"key"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *cmdGet) Execute([]string) error {
	var repo, kind = openRepository()
	defer repo.Dispose()

	key, err := parseKey(kind, cmd.Args.Key)
	if err != nil {
		return err
	}
	if !cmd.All {
		value, err := repo.Get(key)
		if err != nil {
			return err
		}
		fmt.Println(string(value))
		return nil
	}

	values, err := repo.GetAll(key)
	if err != nil {
		return err
	}
	for _, v := range values {
		fmt.Println(string(v))
	}
	return nil
}

type cmdDel struct {
	Args struct {
		Key string `positional-arg-name:"key"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *cmdDel) Execute([]string) error {
	var repo, kind = openRepository()
	defer repo.Dispose()

	key, err := parseKey(kind, cmd.Args.Key)
	if err != nil {
		return err
	}
	return repo.Delete(key)
}

type cmdUpdate struct {
	Args struct {
		Key   string   `positional-arg-name:"key"`
		Value []string `positional-arg-name:"value"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *cmdUpdate) Execute([]string) error {
	var repo, kind = openRepository()
	defer repo.Dispose()

	key, err := parseKey(kind, cmd.Args.Key)
	if err != nil {
		return err
	}
	return repo.Update(key, joinArgs(cmd.Args.Value))
}

type cmdConsume struct{}

func (cmd *cmdConsume) Execute([]string) error {
	var repo, kind = openRepository()
	defer repo.Dispose()

	rec, err := repo.Consume()
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", formatKey(kind, rec.Key), rec.Value)
	return nil
}

type cmdTruncate struct{}

func (cmd *cmdTruncate) Execute([]string) error {
	var repo, _ = openRepository()
	defer repo.Dispose()

	n, err := repo.Truncate()
	if err != nil {
		return err
	}
	fmt.Printf("removed %d records\n", n)
	return nil
}
