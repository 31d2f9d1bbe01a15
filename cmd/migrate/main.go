package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func main() {
	var (
		dsn = flag.String("dsn", os.Getenv("KEYGATE_PG_DSN"), "postgres dsn (defaults to KEYGATE_PG_DSN)")
		dir = flag.String("dir", "ops/migrations", "migrations directory")
	)
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}
	if *dsn == "" {
		log.Fatal("dsn is required (flag -dsn or KEYGATE_PG_DSN)")
	}

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	switch cmd {
	case "up":
		err = goose.UpContext(ctx, db, *dir)
	case "down":
		err = goose.DownContext(ctx, db, *dir)
	case "status":
		err = goose.StatusContext(ctx, db, *dir)
	case "version":
		var v int64
		v, err = goose.GetDBVersionContext(ctx, db)
		if err == nil {
			fmt.Println(v)
		}
	default:
		log.Fatalf("unknown command %q (want up, down, status or version)", cmd)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}
