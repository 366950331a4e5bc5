// Package duckdb stores the pharmacogenomic knowledge base in DuckDB.
// The tables mirror the YAML document so a database can be queried directly
// and loaded back into an identical knowledge base.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goduckdb "github.com/marcboeker/go-duckdb"
)

// Store manages a DuckDB connection holding knowledge base tables.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates a DuckDB database at the given path.
// Use an empty string for an in-memory database.
func Open(path string) (*Store, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database path, empty for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// tables lists the knowledge base tables in dependency order.
var tables = []string{
	"kb_metadata",
	"genes",
	"phenotypes",
	"alleles",
	"allele_variants",
	"diplotypes",
	"drugs",
	"drug_genes",
	"risks",
}

// ensureSchema creates tables if they don't exist.
func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kb_metadata (
			key VARCHAR PRIMARY KEY,
			value VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS genes (
			symbol VARCHAR PRIMARY KEY,
			chromosome VARCHAR,
			ord INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS phenotypes (
			gene VARCHAR,
			name VARCHAR,
			min_activity DOUBLE,
			max_activity DOUBLE,
			ord INTEGER,
			PRIMARY KEY (gene, name)
		)`,
		`CREATE TABLE IF NOT EXISTS alleles (
			gene VARCHAR,
			name VARCHAR,
			wild_type BOOLEAN,
			function VARCHAR,
			activity DOUBLE,
			ord INTEGER,
			PRIMARY KEY (gene, name)
		)`,
		`CREATE TABLE IF NOT EXISTS allele_variants (
			gene VARCHAR,
			allele VARCHAR,
			rsid VARCHAR,
			chrom VARCHAR,
			pos BIGINT,
			ref VARCHAR,
			alt VARCHAR,
			ord INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS diplotypes (
			gene VARCHAR,
			allele1 VARCHAR,
			allele2 VARCHAR,
			phenotype VARCHAR,
			ord INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS drugs (
			name VARCHAR PRIMARY KEY,
			guideline VARCHAR,
			ord INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS drug_genes (
			drug VARCHAR,
			gene VARCHAR,
			ord INTEGER,
			PRIMARY KEY (drug, gene)
		)`,
		`CREATE TABLE IF NOT EXISTS risks (
			drug VARCHAR,
			gene VARCHAR,
			phenotype VARCHAR,
			label VARCHAR,
			severity VARCHAR,
			urgency VARCHAR,
			strength VARCHAR,
			action VARCHAR,
			dosing VARCHAR,
			recommendation VARCHAR,
			ord INTEGER
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every knowledge base row.
func (s *Store) Clear() error {
	return s.inTx(context.Background(), clearTables)
}

func clearTables(ctx context.Context, conn *sql.Conn) error {
	for _, t := range tables {
		if _, err := conn.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return nil
}

// inTx runs fn inside a transaction on one dedicated connection. Appenders
// created from that connection write within the transaction.
func (s *Store) inTx(ctx context.Context, fn func(context.Context, *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, conn); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// appendRows batch-inserts rows into table using the Appender API.
func appendRows(conn *sql.Conn, table string, rows [][]driver.Value) error {
	if len(rows) == 0 {
		return nil
	}

	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", table)
		return err
	}); err != nil {
		return fmt.Errorf("create appender for %s: %w", table, err)
	}
	defer appender.Close()

	for _, row := range rows {
		if err := appender.AppendRow(row...); err != nil {
			return fmt.Errorf("append %s row: %w", table, err)
		}
	}

	return appender.Flush()
}
