package migrations

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Run creates the ledger schema for the connected dialect. Stock and record
// invariants are enforced here so that no caller can bypass them.
func Run(ctx context.Context, db *sqlx.DB) error {
	var schema []string
	switch db.DriverName() {
	case "pgx", "postgres":
		schema = postgresSchema
	default:
		schema = sqliteSchema
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS pharmacies (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            address TEXT NOT NULL DEFAULT '',
            latitude REAL,
            longitude REAL,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE TABLE IF NOT EXISTS medications (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            code TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL,
            category TEXT NOT NULL DEFAULT '',
            requires_prescription BOOLEAN NOT NULL DEFAULT 0
        );`,
	`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL CHECK (role IN ('ADMIN', 'PHARMACY_OPERATOR')),
            active_pharmacy_id INTEGER REFERENCES pharmacies(id) ON DELETE SET NULL,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE TABLE IF NOT EXISTS user_pharmacies (
            user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id) ON DELETE CASCADE,
            PRIMARY KEY (user_id, pharmacy_id)
        );`,
	`CREATE TABLE IF NOT EXISTS inventory_lots (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id) ON DELETE RESTRICT,
            medication_id INTEGER NOT NULL REFERENCES medications(id) ON DELETE RESTRICT,
            quantity_on_hand INTEGER NOT NULL DEFAULT 0 CHECK (quantity_on_hand >= 0),
            reorder_threshold INTEGER NOT NULL DEFAULT 0 CHECK (reorder_threshold >= 0),
            unit_price TEXT NOT NULL DEFAULT '0' CHECK (CAST(unit_price AS REAL) >= 0),
            expires_at DATE,
            version INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (pharmacy_id, medication_id)
        );`,
	`CREATE TABLE IF NOT EXISTS sale_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            inventory_lot_id INTEGER NOT NULL REFERENCES inventory_lots(id) ON DELETE RESTRICT,
            pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id) ON DELETE RESTRICT,
            quantity INTEGER NOT NULL CHECK (quantity > 0),
            unit_price_at_sale TEXT NOT NULL,
            user_id INTEGER NOT NULL,
            request_key TEXT UNIQUE,
            occurred_at DATETIME NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS return_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            inventory_lot_id INTEGER NOT NULL REFERENCES inventory_lots(id) ON DELETE RESTRICT,
            pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id) ON DELETE RESTRICT,
            quantity INTEGER NOT NULL CHECK (quantity > 0),
            reason TEXT NOT NULL CHECK (reason IN ('DAMAGED', 'NEAR_EXPIRY', 'ORDER_ERROR', 'OVERSTOCK', 'UNREQUESTED', 'SUBSTITUTION', 'PACKAGING_DAMAGE')),
            status TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
            request_key TEXT UNIQUE,
            occurred_at DATETIME NOT NULL,
            decided_at DATETIME
        );`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            inventory_lot_id INTEGER NOT NULL REFERENCES inventory_lots(id) ON DELETE RESTRICT,
            pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id) ON DELETE RESTRICT,
            kind TEXT NOT NULL CHECK (kind IN ('INBOUND', 'OUTBOUND')),
            quantity INTEGER NOT NULL CHECK (quantity > 0),
            request_key TEXT UNIQUE,
            occurred_at DATETIME NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_sale_records_pharmacy ON sale_records (pharmacy_id, occurred_at);`,
	`CREATE INDEX IF NOT EXISTS idx_return_records_pharmacy ON return_records (pharmacy_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_pharmacy ON stock_movements (pharmacy_id, occurred_at);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS pharmacies (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            address TEXT NOT NULL DEFAULT '',
            latitude DOUBLE PRECISION,
            longitude DOUBLE PRECISION,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS medications (
            id BIGSERIAL PRIMARY KEY,
            code TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL,
            category TEXT NOT NULL DEFAULT '',
            requires_prescription BOOLEAN NOT NULL DEFAULT FALSE
        );`,
	`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL CHECK (role IN ('ADMIN', 'PHARMACY_OPERATOR')),
            active_pharmacy_id BIGINT REFERENCES pharmacies(id) ON DELETE SET NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS user_pharmacies (
            user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            pharmacy_id BIGINT NOT NULL REFERENCES pharmacies(id) ON DELETE CASCADE,
            PRIMARY KEY (user_id, pharmacy_id)
        );`,
	`CREATE TABLE IF NOT EXISTS inventory_lots (
            id BIGSERIAL PRIMARY KEY,
            pharmacy_id BIGINT NOT NULL REFERENCES pharmacies(id) ON DELETE RESTRICT,
            medication_id BIGINT NOT NULL REFERENCES medications(id) ON DELETE RESTRICT,
            quantity_on_hand BIGINT NOT NULL DEFAULT 0 CHECK (quantity_on_hand >= 0),
            reorder_threshold BIGINT NOT NULL DEFAULT 0 CHECK (reorder_threshold >= 0),
            unit_price NUMERIC(14, 4) NOT NULL DEFAULT 0 CHECK (unit_price >= 0),
            expires_at DATE,
            version BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (pharmacy_id, medication_id)
        );`,
	`CREATE TABLE IF NOT EXISTS sale_records (
            id BIGSERIAL PRIMARY KEY,
            inventory_lot_id BIGINT NOT NULL REFERENCES inventory_lots(id) ON DELETE RESTRICT,
            pharmacy_id BIGINT NOT NULL REFERENCES pharmacies(id) ON DELETE RESTRICT,
            quantity BIGINT NOT NULL CHECK (quantity > 0),
            unit_price_at_sale NUMERIC(14, 4) NOT NULL,
            user_id BIGINT NOT NULL,
            request_key TEXT UNIQUE,
            occurred_at TIMESTAMPTZ NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS return_records (
            id BIGSERIAL PRIMARY KEY,
            inventory_lot_id BIGINT NOT NULL REFERENCES inventory_lots(id) ON DELETE RESTRICT,
            pharmacy_id BIGINT NOT NULL REFERENCES pharmacies(id) ON DELETE RESTRICT,
            quantity BIGINT NOT NULL CHECK (quantity > 0),
            reason TEXT NOT NULL CHECK (reason IN ('DAMAGED', 'NEAR_EXPIRY', 'ORDER_ERROR', 'OVERSTOCK', 'UNREQUESTED', 'SUBSTITUTION', 'PACKAGING_DAMAGE')),
            status TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
            request_key TEXT UNIQUE,
            occurred_at TIMESTAMPTZ NOT NULL,
            decided_at TIMESTAMPTZ
        );`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
            id BIGSERIAL PRIMARY KEY,
            inventory_lot_id BIGINT NOT NULL REFERENCES inventory_lots(id) ON DELETE RESTRICT,
            pharmacy_id BIGINT NOT NULL REFERENCES pharmacies(id) ON DELETE RESTRICT,
            kind TEXT NOT NULL CHECK (kind IN ('INBOUND', 'OUTBOUND')),
            quantity BIGINT NOT NULL CHECK (quantity > 0),
            request_key TEXT UNIQUE,
            occurred_at TIMESTAMPTZ NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_sale_records_pharmacy ON sale_records (pharmacy_id, occurred_at);`,
	`CREATE INDEX IF NOT EXISTS idx_return_records_pharmacy ON return_records (pharmacy_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_pharmacy ON stock_movements (pharmacy_id, occurred_at);`,
}
