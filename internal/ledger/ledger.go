// Package ledger keeps a local log of the exports that were run, so past
// downloads can be listed without asking the repository again.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

type Status string

const (
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusTimeout  Status = "timeout"
	StatusNotFound Status = "not_found"
)

type Entry struct {
	Id          int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Environment string
	Form        string
	FormCode    string
	Subprogram  string
	Source      string
	FileName    string
	Path        string
	Status      Status
	Error       string
}

// Config selects the database, File is a local sqlite file and Url a remote
// libsql database. Url wins when both are set.
type Config struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (c Config) Enabled() bool {
	return c.File != "" || c.Url != ""
}

type Ledger struct {
	db *sql.DB
}

func Open(cfg Config) (*Ledger, error) {
	var (
		db  *sql.DB
		err error
	)
	switch {
	case cfg.Url != "":
		dsn, err := libsqlDsn(cfg.Url, cfg.AuthToken)
		if err != nil {
			return nil, err
		}
		db, err = sql.Open("libsql", dsn)
		if err != nil {
			return nil, err
		}
	case cfg.File != "":
		db, err = openFile(cfg.File)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("ledger: a file or url was not specified")
	}

	return New(db)
}

// libsqlDsn adds the auth token to the query of a libsql url.
func libsqlDsn(rawUrl, authToken string) (string, error) {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return "", fmt.Errorf("ledger url: %w", err)
	}
	if authToken != "" {
		query := u.Query()
		query.Set("authToken", authToken)
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func openFile(path string) (*sql.DB, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0o755)
		if err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite does not handle concurrent writers, a single connection
	// serializes them
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// New wraps an open database, creating the schema if needed.
func New(db *sql.DB) (*Ledger, error) {
	_, err := db.Exec(Schema)
	if err != nil {
		return nil, fmt.Errorf("ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Record(ctx context.Context, e Entry) (int64, error) {
	res, err := l.db.ExecContext(
		ctx,
		`insert into exports (
			started_at, finished_at, environment, form, form_code,
			subprogram, source, file_name, path, status, error
		) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.StartedAt.UnixMilli(),
		e.FinishedAt.UnixMilli(),
		e.Environment,
		e.Form,
		e.FormCode,
		e.Subprogram,
		e.Source,
		e.FileName,
		e.Path,
		string(e.Status),
		e.Error,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Recent returns the latest entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`select
			id, started_at, finished_at, environment, form, form_code,
			subprogram, source, file_name, path, status, error
		from exports
		order by started_at desc, id desc
		limit ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			started  int64
			finished int64
			status   string
		)
		err := rows.Scan(
			&e.Id, &started, &finished, &e.Environment, &e.Form, &e.FormCode,
			&e.Subprogram, &e.Source, &e.FileName, &e.Path, &status, &e.Error,
		)
		if err != nil {
			return nil, err
		}
		e.StartedAt = time.UnixMilli(started)
		e.FinishedAt = time.UnixMilli(finished)
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
