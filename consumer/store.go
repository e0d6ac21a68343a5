package consumer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andrebq/authopenid/env"
	"github.com/yohcop/openid-go"
)

type (
	Association struct {
		Handle    string
		Secret    []byte
		Issued    time.Time
		Lifetime  time.Duration
		AssocType string
	}

	// SQLStore keeps associations and used nonces in the environment database
	SQLStore struct {
		env  *env.Environment
		skew time.Duration
		now  func() time.Time
	}

	// nonceStore adapts SQLStore to the nonce store used by the library
	nonceStore struct {
		ctx   context.Context
		store *SQLStore
	}

	NonceRejected struct {
		Endpoint string
		Nonce    string
	}
)

const (
	AssociationsTable = "oid_associations"
	NoncesTable       = "oid_nonces"

	// DefaultNonceSkew is how far a nonce timestamp may be from the clock
	DefaultNonceSkew = 5 * time.Hour

	nonceTimeLayout = "2006-01-02T15:04:05Z"
)

var (
	storeTables = []string{AssociationsTable, NoncesTable}

	errMalformedNonce = errors.New("malformed nonce")
)

func NewSQLStore(e *env.Environment, skew time.Duration) *SQLStore {
	if skew <= 0 {
		skew = DefaultNonceSkew
	}
	return &SQLStore{env: e, skew: skew, now: time.Now}
}

func (a Association) ExpiresAt() time.Time {
	return a.Issued.Add(a.Lifetime)
}

func (a Association) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt())
}

func (n NonceRejected) Error() string {
	return fmt.Sprintf("nonce %v from %v was already used or is outside the allowed time window", n.Nonce, n.Endpoint)
}

// CreateTables creates both tables, existing tables are kept untouched.
func (s *SQLStore) CreateTables(ctx context.Context, db env.Querier) error {
	for _, cmd := range []string{
		`create table if not exists oid_nonces(
			server_url varchar,
			timestamp integer,
			salt char(40),
			unique(server_url, timestamp, salt)
		)`,
		`create table if not exists oid_associations(
			server_url varchar(2047),
			handle varchar(255),
			secret blob(128),
			issued integer,
			lifetime integer,
			assoc_type varchar(64),
			primary key (server_url, handle)
		)`,
	} {
		_, err := db.ExecContext(ctx, cmd)
		if err != nil {
			return fmt.Errorf("unable to create openid tables, cause %w", err)
		}
	}
	return nil
}

// MissingTables lists the store tables not present in db.
func (s *SQLStore) MissingTables(ctx context.Context, db env.Querier) ([]string, error) {
	return env.MissingTables(ctx, db, storeTables...)
}

func (s *SQLStore) StoreAssociation(ctx context.Context, serverURL string, a Association) error {
	_, err := s.env.DB().ExecContext(ctx, `insert into oid_associations(server_url, handle, secret, issued, lifetime, assoc_type)
		values (?, ?, ?, ?, ?, ?)
		on conflict (server_url, handle) do update set
			secret = excluded.secret,
			issued = excluded.issued,
			lifetime = excluded.lifetime,
			assoc_type = excluded.assoc_type`,
		serverURL, a.Handle, a.Secret, a.Issued.Unix(), int64(a.Lifetime/time.Second), a.AssocType)
	if err != nil {
		return fmt.Errorf("unable to store association %v for %v, cause %w", a.Handle, serverURL, err)
	}
	return nil
}

// GetAssociation returns the association with the given handle, or the most
// recently issued one when handle is empty. Expired associations found
// along the way are removed. A nil association is returned if none is found.
func (s *SQLStore) GetAssociation(ctx context.Context, serverURL, handle string) (*Association, error) {
	var rows *sql.Rows
	var err error
	if handle != "" {
		rows, err = s.env.DB().QueryContext(ctx, `select handle, secret, issued, lifetime, assoc_type
			from oid_associations where server_url = ? and handle = ?`, serverURL, handle)
	} else {
		rows, err = s.env.DB().QueryContext(ctx, `select handle, secret, issued, lifetime, assoc_type
			from oid_associations where server_url = ?`, serverURL)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to lookup associations for %v, cause %w", serverURL, err)
	}
	var found []Association
	for rows.Next() {
		var a Association
		var issued, lifetime int64
		if err := rows.Scan(&a.Handle, &a.Secret, &issued, &lifetime, &a.AssocType); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unable to read association for %v, cause %w", serverURL, err)
		}
		a.Issued = time.Unix(issued, 0)
		a.Lifetime = time.Duration(lifetime) * time.Second
		found = append(found, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	var best *Association
	for i := range found {
		a := found[i]
		if a.Expired(now) {
			if _, err := s.RemoveAssociation(ctx, serverURL, a.Handle); err != nil {
				return nil, err
			}
			continue
		}
		if best == nil || a.Issued.After(best.Issued) {
			best = &a
		}
	}
	return best, nil
}

func (s *SQLStore) RemoveAssociation(ctx context.Context, serverURL, handle string) (bool, error) {
	res, err := s.env.DB().ExecContext(ctx, `delete from oid_associations where server_url = ? and handle = ?`, serverURL, handle)
	if err != nil {
		return false, fmt.Errorf("unable to remove association %v for %v, cause %w", handle, serverURL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UseNonce records the nonce, it returns false if the nonce was seen before
// or if timestamp is too far from the current time.
func (s *SQLStore) UseNonce(ctx context.Context, serverURL string, timestamp time.Time, salt string) (bool, error) {
	diff := s.now().Sub(timestamp)
	if diff < 0 {
		diff = -diff
	}
	if diff > s.skew {
		return false, nil
	}
	res, err := s.env.DB().ExecContext(ctx, `insert or ignore into oid_nonces(server_url, timestamp, salt) values (?, ?, ?)`,
		serverURL, timestamp.Unix(), salt)
	if err != nil {
		return false, fmt.Errorf("unable to record nonce for %v, cause %w", serverURL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) CleanupNonces(ctx context.Context) (int64, error) {
	res, err := s.env.DB().ExecContext(ctx, `delete from oid_nonces where timestamp < ?`, s.now().Add(-s.skew).Unix())
	if err != nil {
		return 0, fmt.Errorf("unable to cleanup nonces, cause %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) CleanupAssociations(ctx context.Context) (int64, error) {
	res, err := s.env.DB().ExecContext(ctx, `delete from oid_associations where issued + lifetime <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("unable to cleanup associations, cause %w", err)
	}
	return res.RowsAffected()
}

// Cleanup removes expired nonces and associations.
func (s *SQLStore) Cleanup(ctx context.Context) (nonces int64, associations int64, err error) {
	nonces, err = s.CleanupNonces(ctx)
	if err != nil {
		return
	}
	associations, err = s.CleanupAssociations(ctx)
	return
}

// NonceStore returns a view of s accepted by the OpenID library, ctx is
// used for every database access done through it.
func (s *SQLStore) NonceStore(ctx context.Context) openid.NonceStore {
	return &nonceStore{ctx: ctx, store: s}
}

// Accept splits nonce into its timestamp and salt and records it.
func (n *nonceStore) Accept(endpoint, nonce string) error {
	ts, salt, err := splitNonce(nonce)
	if err != nil {
		return err
	}
	ok, err := n.store.UseNonce(n.ctx, endpoint, ts, salt)
	if err != nil {
		return err
	}
	if !ok {
		return NonceRejected{Endpoint: endpoint, Nonce: nonce}
	}
	return nil
}

func splitNonce(nonce string) (time.Time, string, error) {
	if len(nonce) < len(nonceTimeLayout) {
		return time.Time{}, "", errMalformedNonce
	}
	ts, err := time.Parse(nonceTimeLayout, nonce[:len(nonceTimeLayout)])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", errMalformedNonce, err)
	}
	return ts, nonce[len(nonceTimeLayout):], nil
}
