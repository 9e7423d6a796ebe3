package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// EntryType represents the kind of journal entry
type EntryType string

const (
	TypePurchaseStarted   EntryType = "PURCHASE_STARTED"
	TypePurchaseSucceeded EntryType = "PURCHASE_SUCCEEDED"
	TypePurchaseFailed    EntryType = "PURCHASE_FAILED"
	TypePurchaseDeferred  EntryType = "PURCHASE_DEFERRED"
	TypeRestoreSucceeded  EntryType = "RESTORE_SUCCEEDED"
	TypeRestoreFailed     EntryType = "RESTORE_FAILED"
	TypeIdentitySwitch    EntryType = "IDENTITY_SWITCH"
)

// Entry is one reconciliation event in the journal
type Entry struct {
	ID        int64     `json:"id" db:"id"`
	Type      EntryType `json:"type" db:"type"`
	Message   string    `json:"message" db:"message"`
	Time      int64     `json:"time" db:"time"`
	Product   string    `json:"product" db:"product"`
	AppUserID string    `json:"app_user_id" db:"app_user_id"`
	Extended  string    `json:"extended" db:"extended"`
}

// QueryCondition filters journal queries
type QueryCondition struct {
	Type      EntryType `json:"type,omitempty"`
	Product   string    `json:"product,omitempty"`
	AppUserID string    `json:"app_user_id,omitempty"`
	StartTime int64     `json:"start_time,omitempty"`
	EndTime   int64     `json:"end_time,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// Journal persists reconciliation events to PostgreSQL
type Journal struct {
	db            *sqlx.DB
	cleanupTicker *time.Ticker
	ctx           context.Context
	cancel        context.CancelFunc
}

// New connects to PostgreSQL using the POSTGRES_* environment variables and
// initializes the journal schema.
func New() (*Journal, error) {
	dbHost := os.Getenv("POSTGRES_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("POSTGRES_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	dbName := os.Getenv("POSTGRES_DB")
	if dbName == "" {
		dbName = "purchases"
	}

	dbUser := os.Getenv("POSTGRES_USER")
	if dbUser == "" {
		dbUser = "postgres"
	}

	dbPassword := os.Getenv("POSTGRES_PASSWORD")
	if dbPassword == "" {
		dbPassword = "password"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost, dbPort, dbUser, dbPassword, dbName)

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		glog.Errorf("Failed to connect to PostgreSQL: %v", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		glog.Errorf("Failed to ping PostgreSQL: %v", err)
		return nil, err
	}

	glog.Infof("Connected to PostgreSQL successfully")

	ctx, cancel := context.WithCancel(context.Background())

	j := &Journal{
		db:     db,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := j.initSchema(); err != nil {
		glog.Errorf("Failed to initialize journal schema: %v", err)
		return nil, err
	}

	j.startCleanupRoutine()

	return j, nil
}

func (j *Journal) initSchema() error {
	createTableSchema := `
	CREATE TABLE IF NOT EXISTS purchase_journal (
		id BIGSERIAL PRIMARY KEY,
		type VARCHAR(100) NOT NULL,
		message TEXT NOT NULL,
		time BIGINT NOT NULL,
		product VARCHAR(255) NOT NULL,
		app_user_id VARCHAR(255) NOT NULL DEFAULT '',
		extended TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := j.db.Exec(createTableSchema); err != nil {
		glog.Errorf("Failed to create journal table: %v", err)
		return err
	}

	indexSchema := `
	CREATE INDEX IF NOT EXISTS idx_journal_type ON purchase_journal(type);
	CREATE INDEX IF NOT EXISTS idx_journal_product ON purchase_journal(product);
	CREATE INDEX IF NOT EXISTS idx_journal_app_user_id ON purchase_journal(app_user_id);
	CREATE INDEX IF NOT EXISTS idx_journal_time ON purchase_journal(time);
	CREATE INDEX IF NOT EXISTS idx_journal_created_at ON purchase_journal(created_at);
	`

	if _, err := j.db.Exec(indexSchema); err != nil {
		glog.Errorf("Failed to create journal indexes: %v", err)
		return err
	}

	glog.Infof("Journal schema initialized successfully")
	return nil
}

// StoreEntry stores a new journal entry
func (j *Journal) StoreEntry(entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}

	if entry.AppUserID == "" {
		return fmt.Errorf("app_user_id field cannot be empty")
	}

	if entry.Time == 0 {
		entry.Time = time.Now().Unix()
	}

	if entry.Extended != "" {
		var temp interface{}
		if err := json.Unmarshal([]byte(entry.Extended), &temp); err != nil {
			glog.Warningf("Invalid JSON in extended field, storing as plain text: %v", err)
		}
	}

	query := `
		INSERT INTO purchase_journal (type, message, time, product, app_user_id, extended)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := j.db.QueryRow(query, entry.Type, entry.Message, entry.Time, entry.Product, entry.AppUserID, entry.Extended).Scan(&entry.ID)
	if err != nil {
		glog.Errorf("Failed to store journal entry: %v", err)
		return err
	}

	glog.V(2).Infof("Stored journal entry %d, type: %s, product: %s", entry.ID, entry.Type, entry.Product)
	return nil
}

// QueryEntries queries journal entries based on conditions
func (j *Journal) QueryEntries(condition *QueryCondition) ([]*Entry, error) {
	if condition == nil {
		condition = &QueryCondition{}
	}

	if condition.Limit <= 0 {
		condition.Limit = 100
	}

	query := "SELECT id, type, message, time, product, app_user_id, extended FROM purchase_journal WHERE 1=1"
	args := []interface{}{}
	argIndex := 1

	if condition.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIndex)
		args = append(args, condition.Type)
		argIndex++
	}

	if condition.Product != "" {
		query += fmt.Sprintf(" AND product = $%d", argIndex)
		args = append(args, condition.Product)
		argIndex++
	}

	if condition.AppUserID != "" {
		query += fmt.Sprintf(" AND app_user_id = $%d", argIndex)
		args = append(args, condition.AppUserID)
		argIndex++
	}

	if condition.StartTime > 0 {
		query += fmt.Sprintf(" AND time >= $%d", argIndex)
		args = append(args, condition.StartTime)
		argIndex++
	}

	if condition.EndTime > 0 {
		query += fmt.Sprintf(" AND time <= $%d", argIndex)
		args = append(args, condition.EndTime)
		argIndex++
	}

	query += " ORDER BY time DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, condition.Limit, condition.Offset)

	var entries []*Entry
	if err := j.db.Select(&entries, query, args...); err != nil {
		glog.Errorf("Failed to query journal entries: %v", err)
		return nil, err
	}

	return entries, nil
}

// startCleanupRoutine deletes entries older than the retention window on an
// interval controlled by JOURNAL_CLEANUP_INTERVAL_HOURS.
func (j *Journal) startCleanupRoutine() {
	intervalHours := 24
	if v := os.Getenv("JOURNAL_CLEANUP_INTERVAL_HOURS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			intervalHours = parsed
		}
	}

	j.cleanupTicker = time.NewTicker(time.Duration(intervalHours) * time.Hour)
	go func() {
		for {
			select {
			case <-j.ctx.Done():
				return
			case <-j.cleanupTicker.C:
				j.cleanupOldEntries()
			}
		}
	}()
}

func (j *Journal) cleanupOldEntries() {
	retentionDays := 90
	if v := os.Getenv("JOURNAL_RETENTION_DAYS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			retentionDays = parsed
		}
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result, err := j.db.Exec("DELETE FROM purchase_journal WHERE time < $1", cutoff)
	if err != nil {
		glog.Errorf("Failed to clean up old journal entries: %v", err)
		return
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		glog.Infof("Cleaned up %d journal entries older than %d days", rows, retentionDays)
	}
}

// HealthCheck pings the underlying database
func (j *Journal) HealthCheck() error {
	return j.db.Ping()
}

// Close stops the cleanup routine and closes the database connection
func (j *Journal) Close() error {
	j.cancel()
	if j.cleanupTicker != nil {
		j.cleanupTicker.Stop()
	}
	return j.db.Close()
}
