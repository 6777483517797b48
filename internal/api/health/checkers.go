package health

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteChecker checks SQLite database connectivity.
type SQLiteChecker struct {
	db *sql.DB
}

// NewSQLiteChecker creates a new SQLite health checker.
func NewSQLiteChecker(db *sql.DB) *SQLiteChecker {
	return &SQLiteChecker{db: db}
}

// Name returns the checker name.
func (c *SQLiteChecker) Name() string {
	return "sqlite"
}

// Check verifies the SQLite database is accessible.
func (c *SQLiteChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// Pinger is implemented by realtime brokers that hold a connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerChecker checks the realtime broker connection.
type BrokerChecker struct {
	name   string
	pinger Pinger
}

// NewBrokerChecker creates a broker health checker reported under name.
func NewBrokerChecker(name string, p Pinger) *BrokerChecker {
	return &BrokerChecker{name: name, pinger: p}
}

// Name returns the checker name.
func (c *BrokerChecker) Name() string {
	return c.name
}

// Check verifies the broker is reachable.
func (c *BrokerChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("%s not configured", c.name)
	}
	return c.pinger.Ping(ctx)
}
