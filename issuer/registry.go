// Package issuer implements the Issuer role: it approves clients, signs
// certificates (§3.2), and serves its public key for the Vendor's cache
// (§9). The approval policy behind registration is explicitly out of core
// scope (spec.md Non-goals) and is stubbed as always-approve; the contract
// the rest of the system relies on is only the certificate's fields and
// signature.
package issuer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/nanomoni/nanomoni/nmerrors"
)

// CertificateRecord is the audit row persisted for every certificate the
// Issuer signs, regardless of whether a channel is ever opened against it.
type CertificateRecord struct {
	ClientPublicKey []byte
	InitialBalance  uint64
	IssuedAt        time.Time
	ExpiresAt       time.Time
	IssuerSignature []byte
}

// Registry is the Postgres-backed client registry: one row per issued
// certificate, kept for audit (§4.4).
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens the Postgres connection pool and applies any pending
// golang-migrate migrations at migrationsPath before returning, mirroring
// the teacher's pattern of running schema sync before serving traffic
// (channeldb.Open's syncVersions, here delegated to a real migration tool
// since the registry is a relational store).
func OpenRegistry(dsn, migrationsPath string) (*Registry, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nmerrors.Wrap(err, "open registry database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nmerrors.Wrap(err, "ping registry database")
	}

	if err := runMigrations(db, migrationsPath); err != nil {
		db.Close()
		return nil, err
	}

	return &Registry{db: db}, nil
}

func runMigrations(db *sql.DB, migrationsPath string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nmerrors.Wrap(err, "build migration driver")
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath), "pgx", driver,
	)
	if err != nil {
		return nmerrors.Wrap(err, "load migrations")
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nmerrors.Wrap(err, "apply migrations")
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Ping verifies the connection pool still has a live path to Postgres.
func (r *Registry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Insert persists rec for audit.
func (r *Registry) Insert(ctx context.Context, rec CertificateRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO certificates
			(client_public_key, initial_balance, issued_at, expires_at, issuer_signature)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ClientPublicKey, rec.InitialBalance, rec.IssuedAt, rec.ExpiresAt, rec.IssuerSignature)
	if err != nil {
		return nmerrors.Wrap(err, "insert certificate record")
	}
	return nil
}
