package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"meshworld.ai/internal/config"
)

type actorRow struct {
	Key       string `json:"key"`
	Node      string `json:"node"`
	Mailbox   string `json:"mailbox"`
	Owner     string `json:"owner"`
	UpdatedAt string `json:"updated_at"`
}

type directoryArgs struct {
	db     string
	prefix string
	node   string
	limit  int
}

func directoryFlags(a *directoryArgs) *flag.FlagSet {
	if a == nil {
		a = &directoryArgs{}
	}
	fs := flag.NewFlagSet("directory", flag.ExitOnError)
	fs.StringVar(&a.db, "db", config.DefaultSQLitePath, "sqlite directory path")
	fs.StringVar(&a.prefix, "prefix", "", "key prefix filter, e.g. zone/ or session/")
	fs.StringVar(&a.node, "node", "", "owner node filter")
	fs.IntVar(&a.limit, "limit", 100, "result limit")
	return fs
}

// directoryCmd lists the registrations of a shared sqlite location directory.
func directoryCmd(args []string) {
	var a directoryArgs
	_ = directoryFlags(&a).Parse(args)

	if a.limit <= 0 {
		a.limit = 100
	}
	rows, err := listActors(a.db, strings.TrimSpace(a.prefix), strings.TrimSpace(a.node), a.limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "directory:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

func listActors(path, prefix, node string, limit int) ([]actorRow, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	q := `SELECT key, node, mailbox, owner, updated_at FROM actors WHERE key LIKE ? ESCAPE '\'`
	qargs := []any{escapeLike(prefix) + "%"}
	if node != "" {
		q += ` AND owner = ?`
		qargs = append(qargs, node)
	}
	q += ` ORDER BY key LIMIT ?`
	qargs = append(qargs, limit)

	rs, err := db.Query(q, qargs...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rs.Close()
	var out []actorRow
	for rs.Next() {
		var r actorRow
		var ms int64
		if err := rs.Scan(&r.Key, &r.Node, &r.Mailbox, &r.Owner, &ms); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		r.UpdatedAt = time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
		out = append(out, r)
	}
	return out, rs.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
