package location

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteDirectory shares registrations between processes through one sqlite
// file. Resolve reads an in-memory view that is reloaded every propagation
// interval, so a registration made by another process becomes visible within
// one interval. Writes made through this instance are visible immediately.
type SQLiteDirectory struct {
	db       *sql.DB
	node     string
	interval time.Duration
	log      *slog.Logger

	mu   sync.RWMutex
	view map[Key]Address

	// writes made through this instance while a refresh is loading; a nil
	// address marks an unregister
	inflight map[Key]*Address

	refreshMu sync.Mutex

	// loaded runs between loading the table and swapping the view. Tests use
	// it to interleave writes.
	loaded func()

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func OpenSQLite(path, node string, interval time.Duration, logger *slog.Logger) (*SQLiteDirectory, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS actors (
		key TEXT PRIMARY KEY,
		node TEXT NOT NULL,
		mailbox TEXT NOT NULL,
		owner TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, err
	}

	d := &SQLiteDirectory{
		db:       db,
		node:     node,
		interval: interval,
		log:      logger,
		view:     map[Key]Address{},
		stop:     make(chan struct{}),
	}
	if err := d.Refresh(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func (d *SQLiteDirectory) loop() {
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-t.C:
			if err := d.Refresh(context.Background()); err != nil {
				d.log.Warn("directory refresh failed", "err", err)
			}
		}
	}
}

// Refresh reloads the view from the database. Writes made through this
// instance while the table is being read are carried over into the new view.
func (d *SQLiteDirectory) Refresh(ctx context.Context) error {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	d.mu.Lock()
	d.inflight = map[Key]*Address{}
	d.mu.Unlock()

	next, err := d.load(ctx)
	if d.loaded != nil {
		d.loaded()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		for k, a := range d.inflight {
			if a == nil {
				delete(next, k)
			} else {
				next[k] = *a
			}
		}
		d.view = next
	}
	d.inflight = nil
	return err
}

func (d *SQLiteDirectory) load(ctx context.Context) (map[Key]Address, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key, node, mailbox FROM actors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	next := map[Key]Address{}
	for rows.Next() {
		var k, node, mbox string
		if err := rows.Scan(&k, &node, &mbox); err != nil {
			return nil, err
		}
		next[Key(k)] = Address{Node: node, Mailbox: mbox}
	}
	return next, rows.Err()
}

func (d *SQLiteDirectory) Resolve(_ context.Context, k Key) (Address, error) {
	d.mu.RLock()
	a, ok := d.view[k]
	d.mu.RUnlock()
	if !ok {
		return Address{}, notFound(k)
	}
	return a, nil
}

func (d *SQLiteDirectory) Register(ctx context.Context, k Key, a Address) error {
	if k == "" {
		return fmt.Errorf("register: empty key")
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO actors(key, node, mailbox, owner, updated_at) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET node=excluded.node, mailbox=excluded.mailbox, owner=excluded.owner, updated_at=excluded.updated_at`,
		string(k), a.Node, a.Mailbox, d.node, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("register %s: %w", k, err)
	}
	d.mu.Lock()
	d.view[k] = a
	if d.inflight != nil {
		d.inflight[k] = &a
	}
	d.mu.Unlock()
	return nil
}

func (d *SQLiteDirectory) Unregister(ctx context.Context, k Key) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM actors WHERE key = ?`, string(k)); err != nil {
		return fmt.Errorf("unregister %s: %w", k, err)
	}
	d.mu.Lock()
	delete(d.view, k)
	if d.inflight != nil {
		d.inflight[k] = nil
	}
	d.mu.Unlock()
	return nil
}

// PurgeNode drops every registration written by node, e.g. rows left behind
// by a previous run of this process.
func (d *SQLiteDirectory) PurgeNode(ctx context.Context, node string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM actors WHERE owner = ?`, node)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, d.Refresh(ctx)
}

func (d *SQLiteDirectory) Close() error {
	var err error
	d.once.Do(func() {
		close(d.stop)
		d.wg.Wait()
		err = d.db.Close()
	})
	return err
}
