package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"

	pagekv "github.com/pagekv/pagekv"
)

func main() {
	dir, err := os.MkdirTemp("", "pagekv-quick-start")
	if err != nil {
		panic(err)
	}

	env, err := pagekv.OpenEnvironment(pagekv.Config{
		Path:      dir + "/quick_start.db",
		CacheSize: 256,
	})
	if err != nil {
		panic(fmt.Errorf("open environment: %v", err))
	}
	defer env.Close()

	db, err := env.CreateDatabase("quick_start", pagekv.DatabaseConfig{
		EnableDuplicates: true,
	})
	if err != nil {
		panic(fmt.Errorf("create database: %v", err))
	}

	for i := uint64(0); i < 64; i++ {
		key := []byte(strconv.FormatUint(i, 10))
		val := []byte(strconv.FormatUint(rand.Uint64(), 10))
		if err := db.Insert(key, val); err != nil {
			panic(fmt.Errorf("insert %d: %v", i, err))
		}
	}

	for i := 0; i < 64; i++ {
		k := rand.Uint64N(63)
		key := []byte(strconv.FormatUint(k, 10))
		recs, err := db.Find(key)
		if err != nil {
			panic(fmt.Errorf("find %d: %v", k, err))
		}
		fmt.Printf("db.Find key=%d, val=%s\n", k, recs[0])
	}

	cursor := db.NewCursor(nil)
	defer cursor.Close()
	if err := cursor.MoveFirst(); err == nil {
		for {
			key, _ := cursor.Key()
			rec, _ := cursor.Record()
			fmt.Printf("cursor key=%s val=%s\n", key, rec)
			if err := cursor.MoveNext(); err != nil {
				break
			}
		}
	}
}
