package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[E] with the same
// schema as SQLiteStore on InnoDB.
//
// Never hardcode credentials; read the DSN from the environment:
//
//	st, err := store.NewMySQLStore[graph.TransactionLog](os.Getenv("MYSQL_DSN"))
type MySQLStore[E any] struct {
	*sqlStore[E]
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS agent_runs (
		run_id VARCHAR(255) NOT NULL PRIMARY KEY,
		results LONGTEXT NOT NULL,
		error TEXT NOT NULL,
		started_at BIGINT NOT NULL,
		finished_at BIGINT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_agent_runs_started (started_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS agent_run_logs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		run_id VARCHAR(255) NOT NULL,
		seq INT NOT NULL,
		entry LONGTEXT NOT NULL,
		UNIQUE KEY uk_run_seq (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES agent_runs(run_id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

const mysqlUpsertRun = `
	INSERT INTO agent_runs (run_id, results, error, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		results = VALUES(results),
		error = VALUES(error),
		started_at = VALUES(started_at),
		finished_at = VALUES(finished_at)
`

// NewMySQLStore connects with dsn, for example
// "user:password@tcp(localhost:3306)/agentgraph", and creates the tables.
func NewMySQLStore[E any](dsn string) (*MySQLStore[E], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[E]{sqlStore: &sqlStore[E]{db: db, upsertRun: mysqlUpsertRun}}
	if err := s.createTables(ctx, mysqlSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Stats returns connection pool statistics.
func (m *MySQLStore[E]) Stats() sql.DBStats {
	return m.db.Stats()
}
