// Package env holds the host environment: the SQLite database, the loaded
// configuration and the components that own tables in that database.
//
// Components that need tables register themselves as a SetupParticipant,
// the environment then asks each one, in registration order, to create
// its tables when the environment is created and to upgrade them when an
// older database is opened.
package env

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andrebq/authopenid/internal/config"
	"github.com/andrebq/authopenid/internal/logutil"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type (
	// Querier is satisfied by both *sql.DB and *sql.Tx
	Querier interface {
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}

	SetupParticipant interface {
		EnvironmentCreated(ctx context.Context) error
		EnvironmentNeedsUpgrade(ctx context.Context, db Querier) (bool, error)
		UpgradeEnvironment(ctx context.Context, tx *sql.Tx) error
	}

	Environment struct {
		db           *sql.DB
		path         string
		config       config.Config
		log          zerolog.Logger
		participants []SetupParticipant
	}
)

func openEnvironmentDatabase(ctx context.Context, dir string, create bool) (*sql.DB, error) {
	dbfile := filepath.Join(dir, "db", "authopenid.db")
	if create {
		err := os.MkdirAll(filepath.Dir(dbfile), 0755)
		if err != nil {
			return nil, fmt.Errorf("unable to create directory %v to store environment, cause %w", dir, err)
		}
	} else if _, err := os.Stat(dbfile); err != nil {
		return nil, EnvironmentNotFound{Path: dir}
	}
	connstr := fmt.Sprintf("file:%v?_journal=wal&_busy_timeout=5000&_foreign_keys=on&mode=rwc", dbfile)
	conn, err := sql.Open("sqlite3", connstr)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v, cause %w", dbfile, err)
	}
	err = conn.PingContext(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to ping environment database %v, cause %w", dbfile, err)
	}
	return conn, nil
}

// Open loads an existing environment from dir. When create is true, the
// directory and database are created if needed, but no participant is
// called, use Create for that.
func Open(ctx context.Context, dir string, cfg config.Config, create bool) (*Environment, error) {
	conn, err := openEnvironmentDatabase(ctx, dir, create)
	if err != nil {
		return nil, err
	}
	log := logutil.GetOrDefault(ctx).With().Str("env", dir).Logger()
	return &Environment{
		db:     conn,
		path:   dir,
		config: cfg,
		log:    log,
	}, nil
}

func (e *Environment) Path() string { return e.path }

func (e *Environment) Config() config.Config { return e.config }

func (e *Environment) Logger() zerolog.Logger { return e.log }

func (e *Environment) DB() *sql.DB { return e.db }

// Register adds p to the list of components owning tables in this environment.
func (e *Environment) Register(p ...SetupParticipant) {
	e.participants = append(e.participants, p...)
}

// Query runs fn with a connection that should only be used for reads.
// fn is not called if ctx is already done.
func (e *Environment) Query(ctx context.Context, fn func(Querier) error) error {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("unable to acquire connection, cause %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

// Transaction runs fn inside a transaction, which is committed only
// if fn returns nil.
func (e *Environment) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to start transaction, cause %w", err)
	}
	err = fn(tx)
	if err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			e.log.Error().Err(rerr).Msg("Unable to rollback transaction")
		}
		return err
	}
	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("unable to commit transaction, cause %w", err)
	}
	return nil
}

// Create notifies all participants that the environment was just created.
func (e *Environment) Create(ctx context.Context) error {
	for _, p := range e.participants {
		if err := p.EnvironmentCreated(ctx); err != nil {
			return fmt.Errorf("unable to setup environment %v, cause %w", e.path, err)
		}
	}
	e.log.Info().Int("participants", len(e.participants)).Msg("Environment created")
	return nil
}

// NeedsUpgrade returns true if at least one participant needs an upgrade.
func (e *Environment) NeedsUpgrade(ctx context.Context) (bool, error) {
	var needed bool
	err := e.Query(ctx, func(q Querier) error {
		for _, p := range e.participants {
			n, err := p.EnvironmentNeedsUpgrade(ctx, q)
			if err != nil {
				return err
			}
			needed = needed || n
		}
		return nil
	})
	return needed, err
}

// Upgrade runs the upgrade of every participant that reports it needs one,
// all of them in the same transaction.
func (e *Environment) Upgrade(ctx context.Context) (int, error) {
	var upgraded int
	err := e.Transaction(ctx, func(tx *sql.Tx) error {
		for _, p := range e.participants {
			needed, err := p.EnvironmentNeedsUpgrade(ctx, tx)
			if err != nil {
				return err
			}
			if !needed {
				continue
			}
			err = p.UpgradeEnvironment(ctx, tx)
			if err != nil {
				return UpgradeFailed{Participant: fmt.Sprintf("%T", p), cause: err}
			}
			upgraded++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.log.Info().Int("upgraded", upgraded).Msg("Environment upgrade completed")
	return upgraded, nil
}

func (e *Environment) Close() error {
	return e.db.Close()
}
