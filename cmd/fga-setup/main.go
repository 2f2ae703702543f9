// Command fga-setup writes relationship tuples from a YAML file to the FGA store.
//
//	fga-setup -f tuples.yaml [-delete]
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"funland/pkg/config"
	"funland/pkg/fga"
	"funland/pkg/logger"
)

type tupleFile struct {
	Tuples []fga.Tuple `yaml:"tuples"`
}

func main() {
	file := flag.String("f", "fga-tuples.yaml", "YAML file with a top-level tuples: list")
	del := flag.Bool("delete", false, "delete the tuples instead of writing them")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if !cfg.HasFGA() {
		log.Fatalw("FGA is not configured (OKTA_FGA_STORE_ID, OKTA_FGA_CLIENT_ID, OKTA_FGA_CLIENT_SECRET, OKTA_FGA_TOKEN_ISSUER)")
	}
	b, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalw("read tuples", "file", *file, "err", err)
	}
	var tf tupleFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		log.Fatalw("parse tuples", "file", *file, "err", err)
	}
	if len(tf.Tuples) == 0 {
		log.Warnw("no tuples in file", "file", *file)
		return
	}

	client := fga.New(fga.Config{
		APIURL:       cfg.FGAAPIURL,
		StoreID:      cfg.FGAStoreID,
		ClientID:     cfg.FGAClientID,
		ClientSecret: cfg.FGAClientSecret,
		TokenIssuer:  cfg.FGATokenIssuer,
		Audience:     cfg.FGAAudience,
	}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	op, apply := "write", client.Write
	if *del {
		op, apply = "delete", client.Delete
	}
	if err := apply(ctx, tf.Tuples...); err != nil {
		log.Fatalw("fga "+op, "tuples", len(tf.Tuples), "err", err)
	}
	log.Infow("fga tuples applied", "op", op, "tuples", len(tf.Tuples), "store", cfg.FGAStoreID)
}
