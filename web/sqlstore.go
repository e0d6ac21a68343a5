package web

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/andrebq/authopenid/env"
)

type (
	// SQLStore keeps session attributes in the environment database.
	SQLStore struct {
		env *env.Environment
	}
)

var sessionTables = []string{"session", "session_attribute"}

func NewSQLStore(e *env.Environment) *SQLStore {
	return &SQLStore{env: e}
}

func (s *SQLStore) Load(ctx context.Context, sid string) (map[string]string, error) {
	out := map[string]string{}
	err := s.env.Query(ctx, func(q env.Querier) error {
		rows, err := q.QueryContext(ctx, `select name, value from session_attribute where sid = ?`, sid)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name, value string
			if err := rows.Scan(&name, &value); err != nil {
				return err
			}
			out[name] = value
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("unable to load session %v, cause %w", sid, err)
	}
	return out, nil
}

func (s *SQLStore) Save(ctx context.Context, sid string, attrs map[string]string) error {
	err := s.env.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `insert into session(sid, last_visit) values (?, ?)
			on conflict (sid) do update set last_visit = excluded.last_visit`, sid, time.Now().Unix())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `delete from session_attribute where sid = ?`, sid)
		if err != nil {
			return err
		}
		for name, value := range attrs {
			_, err = tx.ExecContext(ctx, `insert into session_attribute(sid, name, value) values (?, ?, ?)`, sid, name, value)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to save session %v, cause %w", sid, err)
	}
	return nil
}

// Touch moves the last visit of sid to now, so Purge keeps sessions
// that are still in use.
func (s *SQLStore) Touch(ctx context.Context, sid string) (bool, error) {
	var found bool
	err := s.env.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `update session set last_visit = ? where sid = ?`, time.Now().Unix(), sid)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		found = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("unable to touch session %v, cause %w", sid, err)
	}
	return found, nil
}

func (s *SQLStore) Delete(ctx context.Context, sid string) error {
	err := s.env.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `delete from session_attribute where sid = ?`, sid)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `delete from session where sid = ?`, sid)
		return err
	})
	if err != nil {
		return fmt.Errorf("unable to delete session %v, cause %w", sid, err)
	}
	return nil
}

// Purge removes sessions not visited since the given time.
func (s *SQLStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := s.env.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `delete from session_attribute where sid in (select sid from session where last_visit < ?)`, before.Unix())
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `delete from session where last_visit < ?`, before.Unix())
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

func (s *SQLStore) EnvironmentCreated(ctx context.Context) error {
	return s.env.Transaction(ctx, func(tx *sql.Tx) error {
		return s.UpgradeEnvironment(ctx, tx)
	})
}

func (s *SQLStore) EnvironmentNeedsUpgrade(ctx context.Context, db env.Querier) (bool, error) {
	missing, err := env.MissingTables(ctx, db, sessionTables...)
	if err != nil {
		return false, err
	}
	return len(missing) > 0, nil
}

func (s *SQLStore) UpgradeEnvironment(ctx context.Context, tx *sql.Tx) error {
	for _, cmd := range []string{
		`create table if not exists session(
			sid text not null primary key,
			last_visit integer not null
		)`,
		`create table if not exists session_attribute(
			sid text not null,
			name text not null,
			value text not null,
			primary key (sid, name)
		)`,
		`create index if not exists idx_session_last_visit
			on session(last_visit)`,
	} {
		_, err := tx.ExecContext(ctx, cmd)
		if err != nil {
			return fmt.Errorf("unable to create session tables, cause %w", err)
		}
	}
	return nil
}
