// Package orderstore keeps derived order records in SQL: MySQL as the
// primary store and SQLite as the spreadsheet-style mirror.
package orderstore

import (
	"context"
	"database/sql"
	"embed"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"fishfry/internal/order"
)

//go:embed migrations
var migrations embed.FS

var ErrNotFound = errors.New("orderstore: order not found")

const (
	MySQL  = "mysql"
	SQLite = "sqlite3"
)

const columns = `id, created_at, label_number, square_order_number, receipt_url,
	pickup_window, customer_name, last_name, phone_number, item_counts,
	donations, tip, total, fees, note, status, checkin_time, label_url, doc_seq`

const values = `:id, :created_at, :label_number, :square_order_number, :receipt_url,
	:pickup_window, :customer_name, :last_name, :phone_number, :item_counts,
	:donations, :tip, :total, :fees, :note, :status, :checkin_time, :label_url, :doc_seq`

var updatable = []string{
	"created_at", "label_number", "square_order_number", "receipt_url",
	"pickup_window", "customer_name", "last_name", "phone_number", "item_counts",
	"donations", "tip", "total", "fees", "note", "status", "checkin_time", "label_url", "doc_seq",
}

type Repository struct {
	db     *sqlx.DB
	driver string
	upsert string
}

// Open connects to driver ("mysql" or "sqlite3") and applies the embedded
// migrations for that dialect.
func Open(driver, dsn string) (*Repository, error) {
	switch driver {
	case MySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "mysql dsn")
		}
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	case SQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_journal_mode=WAL"
		}
	default:
		return nil, errors.Errorf("orderstore: unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connect to database")
	}
	if err := migrateUp(driver, db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Repository{db: db, driver: driver, upsert: upsertStatement(driver)}, nil
}

func migrateUp(driver string, db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations/"+driver)
	if err != nil {
		return errors.Wrap(err, "migration source")
	}
	defer src.Close()

	var target database.Driver
	switch driver {
	case MySQL:
		target, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	case SQLite:
		target, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	}
	if err != nil {
		return errors.Wrap(err, "migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		return errors.Wrap(err, "migrate")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

func upsertStatement(driver string) string {
	set := make([]string, len(updatable))
	for i, c := range updatable {
		if driver == MySQL {
			set[i] = c + " = VALUES(" + c + ")"
		} else {
			set[i] = c + " = excluded." + c
		}
	}
	stmt := "INSERT INTO orders (" + columns + ") VALUES (" + values + ")"
	if driver == MySQL {
		return stmt + " ON DUPLICATE KEY UPDATE " + strings.Join(set, ", ")
	}
	return stmt + " ON CONFLICT (id) DO UPDATE SET " + strings.Join(set, ", ")
}

func (r *Repository) Driver() string { return r.driver }

func (r *Repository) DB() *sqlx.DB { return r.db }

func (r *Repository) Close() error { return r.db.Close() }

// Upsert inserts the record or replaces every column of the stored row.
func (r *Repository) Upsert(ctx context.Context, rec *order.Record) error {
	if rec.ID == "" {
		return errors.New("orderstore: record without id")
	}
	_, err := r.db.NamedExecContext(ctx, r.upsert, rec)
	return errors.Wrapf(err, "upsert order %s", rec.ID)
}

func (r *Repository) Get(ctx context.Context, id string) (*order.Record, error) {
	var rec order.Record
	err := r.db.GetContext(ctx, &rec, r.db.Rebind("SELECT "+columns+" FROM orders WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "order %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	return &rec, nil
}

// List returns every record ordered by label number.
func (r *Repository) List(ctx context.Context) ([]*order.Record, error) {
	var recs []*order.Record
	if err := r.db.SelectContext(ctx, &recs, "SELECT "+columns+" FROM orders ORDER BY label_number, id"); err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return recs, nil
}

// SetPhone overwrites the stored phone number of one order.
func (r *Repository) SetPhone(ctx context.Context, id, phone string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind("UPDATE orders SET phone_number = ? WHERE id = ?"), phone, id)
	if err != nil {
		return errors.Wrapf(err, "set phone of %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "order %s", id)
	}
	return nil
}

// PhoneUpdateSQL renders a standalone UPDATE statement for operators to
// review and apply by hand.
func PhoneUpdateSQL(id, phone string) string {
	q := strings.NewReplacer(`'`, `''`)
	return "UPDATE orders SET phone_number = '" + q.Replace(phone) + "' WHERE id = '" + q.Replace(id) + "';"
}
