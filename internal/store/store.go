// Package store persists consolidation batches and their items in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/pkg/errors"
	"tax-reconciliation-service/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timestampLayout = time.RFC3339Nano

// Store is the SQLite-backed batch repository.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

// BatchKey identifies the batch a commit overwrites.
type BatchKey struct {
	District  string
	Proccode  string
	DateStart time.Time
	DateEnd   time.Time
}

// BatchFilter narrows ListBatches. Zero fields match everything.
type BatchFilter struct {
	District string
	Proccode string
	From     time.Time
	To       time.Time
	Limit    int
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "database.path", path, nil)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StorageError(errors.CodeDatabaseError, "open", err).WithContext("path", path)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.StorageError(errors.CodeDatabaseError, "ping", err).WithContext("path", path)
	}

	s := &Store{db: db, logger: logger.WithComponent("store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.WithField("path", path).Debug("Database ready")
	return s, nil
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.StorageError(errors.CodeMigrationError, "load migrations", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return errors.StorageError(errors.CodeMigrationError, "create migration driver", err)
	}

	// m.Close would close the shared *sql.DB through the driver.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return errors.StorageError(errors.CodeMigrationError, "create migrator", err)
	}

	if err := m.Up(); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			s.logger.Debug("No new database migrations to apply")
			return nil
		}
		return errors.StorageError(errors.CodeMigrationError, "apply migrations", err)
	}
	s.logger.Info("Database migrations applied")
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceBatch deletes every batch matching the key of batch and inserts
// batch with items, in one transaction. It returns how many batches were
// replaced.
func (s *Store) ReplaceBatch(ctx context.Context, batch *models.ConsolidationBatch, items []models.ConsolidationItem) (int, error) {
	if err := batch.Validate(); err != nil {
		return 0, errors.ValidationError(errors.CodeInvalidValue, "batch", batch.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.StorageError(errors.CodeDatabaseError, "begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM consolidation_batches
		 WHERE district = ? AND proccode = ? AND date_start = ? AND date_end = ?`,
		batch.District, batch.Proccode, day(batch.DateStart), day(batch.DateEnd))
	if err != nil {
		return 0, errors.StorageError(errors.CodeDatabaseError, "delete previous batch", err)
	}
	replaced, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO consolidation_batches
		 (id, upload_date, proccode, source, district, user_name, date_start, date_end, total_items, total_nominal)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.UploadDate.UTC().Format(timestampLayout), batch.Proccode, batch.Source, batch.District,
		batch.UserName, day(batch.DateStart), day(batch.DateEnd), batch.TotalItems, batch.TotalNominal.String())
	if err != nil {
		return 0, errors.StorageError(errors.CodeDatabaseError, "insert batch", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO consolidation_items (id, batch_id, nominal, transaction_date, raw_data)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.StorageError(errors.CodeDatabaseError, "prepare item insert", err)
	}
	defer stmt.Close()

	for i := range items {
		item := &items[i]
		raw, err := item.RawJSON()
		if err != nil {
			return 0, errors.StorageError(errors.CodeDatabaseError, "encode item", err).WithContext("item", item.ID)
		}
		if _, err := stmt.ExecContext(ctx, item.ID, batch.ID, item.Nominal.String(), day(item.TransactionDate), raw); err != nil {
			return 0, errors.StorageError(errors.CodeDatabaseError, "insert item", err).WithContext("item", item.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.StorageError(errors.CodeDatabaseError, "commit transaction", err)
	}

	s.logger.WithFields(logger.Fields{
		"batch_id": batch.ID,
		"items":    len(items),
		"replaced": replaced,
	}).Info("Consolidation batch stored")

	return int(replaced), nil
}

const batchColumns = `id, upload_date, proccode, source, district, user_name, date_start, date_end, total_items, total_nominal`

// ListBatches returns batches matching filter, newest upload first.
func (s *Store) ListBatches(ctx context.Context, filter BatchFilter) ([]models.ConsolidationBatch, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.District != "" {
		where = append(where, "district = ?")
		args = append(args, filter.District)
	}
	if filter.Proccode != "" {
		where = append(where, "proccode = ?")
		args = append(args, filter.Proccode)
	}
	if !filter.From.IsZero() {
		where = append(where, "date_end >= ?")
		args = append(args, day(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "date_start <= ?")
		args = append(args, day(filter.To))
	}

	query := "SELECT " + batchColumns + " FROM consolidation_batches"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY upload_date DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeDatabaseError, "list batches", err)
	}
	defer rows.Close()

	batches := []models.ConsolidationBatch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeDatabaseError, "list batches", err)
	}
	return batches, nil
}

// GetBatch returns one batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (*models.ConsolidationBatch, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+batchColumns+" FROM consolidation_batches WHERE id = ?", id)
	b, err := scanBatch(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ConsolidationError(errors.CodeBatchNotFound, id, nil)
		}
		return nil, err
	}
	return b, nil
}

// ListItems returns the items of a batch ordered by transaction date.
func (s *Store) ListItems(ctx context.Context, batchID string) ([]models.ConsolidationItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, nominal, transaction_date, raw_data
		 FROM consolidation_items WHERE batch_id = ? ORDER BY transaction_date, rowid`, batchID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeDatabaseError, "list items", err)
	}
	defer rows.Close()

	items := []models.ConsolidationItem{}
	for rows.Next() {
		var (
			item            models.ConsolidationItem
			nominal, txDate string
			raw             string
		)
		if err := rows.Scan(&item.ID, &item.BatchID, &nominal, &txDate, &raw); err != nil {
			return nil, errors.StorageError(errors.CodeDatabaseError, "scan item", err)
		}
		if item.Nominal, err = decimal.NewFromString(nominal); err != nil {
			return nil, errors.StorageError(errors.CodeDatabaseError, "parse item nominal", err).WithContext("item", item.ID)
		}
		if item.TransactionDate, err = time.Parse(models.DayLayout, txDate); err != nil {
			return nil, errors.StorageError(errors.CodeDatabaseError, "parse item date", err).WithContext("item", item.ID)
		}
		if err := json.Unmarshal([]byte(raw), &item.RawData); err != nil {
			return nil, errors.StorageError(errors.CodeDatabaseError, "decode item raw data", err).WithContext("item", item.ID)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeDatabaseError, "list items", err)
	}
	return items, nil
}

// DeleteBatch removes a batch and, by cascade, its items.
func (s *Store) DeleteBatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM consolidation_batches WHERE id = ?", id)
	if err != nil {
		return errors.StorageError(errors.CodeDatabaseError, "delete batch", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ConsolidationError(errors.CodeBatchNotFound, id, nil)
	}
	s.logger.WithField("batch_id", id).Info("Consolidation batch deleted")
	return nil
}

// CountItems returns the number of stored items across all batches.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM consolidation_items").Scan(&n); err != nil {
		return 0, errors.StorageError(errors.CodeDatabaseError, "count items", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row scanner) (*models.ConsolidationBatch, error) {
	var (
		b                    models.ConsolidationBatch
		uploaded, start, end string
		total                string
	)
	err := row.Scan(&b.ID, &uploaded, &b.Proccode, &b.Source, &b.District, &b.UserName, &start, &end, &b.TotalItems, &total)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.StorageError(errors.CodeDatabaseError, "scan batch", err)
	}

	if b.UploadDate, err = time.Parse(timestampLayout, uploaded); err != nil {
		return nil, errors.StorageError(errors.CodeDatabaseError, "parse upload date", err).WithContext("batch", b.ID)
	}
	if b.DateStart, err = time.Parse(models.DayLayout, start); err != nil {
		return nil, errors.StorageError(errors.CodeDatabaseError, "parse start date", err).WithContext("batch", b.ID)
	}
	if b.DateEnd, err = time.Parse(models.DayLayout, end); err != nil {
		return nil, errors.StorageError(errors.CodeDatabaseError, "parse end date", err).WithContext("batch", b.ID)
	}
	if b.TotalNominal, err = decimal.NewFromString(total); err != nil {
		return nil, errors.StorageError(errors.CodeDatabaseError, "parse total nominal", err).WithContext("batch", b.ID)
	}
	return &b, nil
}

func day(t time.Time) string {
	return t.Format(models.DayLayout)
}
