package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// PostgresConfig configures the durable session table.
type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

type sessionRow struct {
	bun.BaseModel `bun:"table:agent_sessions"`

	SessionID string    `bun:"session_id,pk"`
	Payload   []byte    `bun:"payload,type:jsonb,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// PostgresStore persists Memory in Postgres. Used instead of Redis when a
// deployment wants sessions to survive a cache flush.
type PostgresStore struct {
	db      *bun.DB
	timeout time.Duration
}

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &PostgresStore{db: db, timeout: timeout}, nil
}

// Migrate creates the session table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.db.NewCreateTable().
		Model((*sessionRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create session table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*Memory, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row sessionRow
	err := s.db.NewSelect().
		Model(&row).
		Where("session_id = ?", sessionID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	var mem Memory
	if err := json.Unmarshal(row.Payload, &mem); err != nil {
		return nil, fmt.Errorf("unmarshal session memory: %w", err)
	}
	mem.EnsureParams()
	if mem.Stage == "" {
		mem.Stage = StageStart
	}
	return &mem, nil
}

func (s *PostgresStore) Save(ctx context.Context, mem *Memory) error {
	if mem == nil {
		return ErrNilMemory
	}
	if strings.TrimSpace(mem.SessionID) == "" {
		return ErrInvalidSession
	}
	mem.EnsureParams()
	if mem.UpdatedAt.IsZero() {
		mem.UpdatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("marshal session memory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := &sessionRow{
		SessionID: mem.SessionID,
		Payload:   payload,
		UpdatedAt: mem.UpdatedAt,
	}
	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (session_id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
