package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/repositories/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresRepository connects to connStr and applies migrations.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	var username string
	var database string
	err = pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to query database: %v", err)
	}
	log.Info("Connected to %s as %s", database, username)

	migrations, err := readMigrations("postgres")
	if err != nil {
		pool.Close()
		return nil, err
	}
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to execute migration %s: %v", m.name, err)
		}
	}

	return &PostgresRepository{
		pool: pool,
		now:  time.Now,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, userID string) (*models.User, error) {
	q := `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING;`
	if _, err := r.pool.Exec(ctx, q, userID); err != nil {
		return nil, fmt.Errorf("failed to insert user: %v", err)
	}
	return &models.User{ID: userID}, nil
}

const postgresSelectSession = `
SELECT s.id, s.name, s.host_id, s.max_players, s.locked, s.properties, s.created_at,
	(SELECT COUNT(*) FROM session_members m WHERE m.session_id = s.id)
FROM sessions s
`

func scanPostgresSession(row pgx.Row) (*models.Session, error) {
	s := &models.Session{}
	if err := row.Scan(&s.ID, &s.Name, &s.HostID, &s.MaxPlayers, &s.Locked, &s.Properties, &s.CreatedAt, &s.PlayerCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan session: %v", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := r.pool.Query(ctx, postgresSelectSession+`WHERE NOT s.locked ORDER BY s.created_at, s.id;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %v", err)
	}
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		s, err := scanPostgresSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %v", err)
	}
	return sessions, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, session *models.Session) (*models.Session, error) {
	id := session.ID
	if id == "" {
		id = uuid.NewString()
	}
	properties := session.Properties
	if properties == nil {
		properties = map[string]string{}
	}
	now := r.now().UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	q := `
	INSERT INTO sessions (id, name, host_id, max_players, locked, properties, created_at)
	VALUES ($1, $2, $3, $4, FALSE, $5, $6);
	`
	if _, err := tx.Exec(ctx, q, id, session.Name, session.HostID, session.MaxPlayers, properties, now); err != nil {
		return nil, fmt.Errorf("failed to insert session: %v", err)
	}
	q = `INSERT INTO session_members (session_id, player_id, joined_at) VALUES ($1, $2, $3);`
	if _, err := tx.Exec(ctx, q, id, session.HostID, now); err != nil {
		return nil, fmt.Errorf("failed to insert host: %v", err)
	}

	created, err := scanPostgresSession(tx.QueryRow(ctx, postgresSelectSession+`WHERE s.id = $1;`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %v", err)
	}
	return created, nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return scanPostgresSession(r.pool.QueryRow(ctx, postgresSelectSession+`WHERE s.id = $1;`, sessionID))
}

func (r *PostgresRepository) JoinSession(ctx context.Context, sessionID string, playerID string) (*models.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	// row lock serializes concurrent joins on the same session
	if _, err := tx.Exec(ctx, `SELECT 1 FROM sessions WHERE id = $1 FOR UPDATE;`, sessionID); err != nil {
		return nil, fmt.Errorf("failed to lock session row: %v", err)
	}

	s, err := scanPostgresSession(tx.QueryRow(ctx, postgresSelectSession+`WHERE s.id = $1;`, sessionID))
	if err != nil {
		return nil, err
	}

	var member bool
	q := `SELECT EXISTS (SELECT 1 FROM session_members WHERE session_id = $1 AND player_id = $2);`
	if err := tx.QueryRow(ctx, q, sessionID, playerID).Scan(&member); err != nil {
		return nil, fmt.Errorf("failed to query membership: %v", err)
	}
	if member {
		return s, nil
	}
	if s.Locked {
		return nil, &ErrSessionLocked{SessionID: sessionID}
	}
	if s.Full() {
		return nil, &ErrSessionFull{SessionID: sessionID}
	}

	q = `INSERT INTO session_members (session_id, player_id, joined_at) VALUES ($1, $2, $3);`
	if _, err := tx.Exec(ctx, q, sessionID, playerID, r.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to insert member: %v", err)
	}
	s.PlayerCount++

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %v", err)
	}
	return s, nil
}

func (r *PostgresRepository) LockSession(ctx context.Context, sessionID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET locked = TRUE WHERE id = $1;`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to lock session: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{}
	}
	return nil
}

func (r *PostgresRepository) LeaveSession(ctx context.Context, sessionID string, playerID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	var hostID string
	if err := tx.QueryRow(ctx, `SELECT host_id FROM sessions WHERE id = $1;`, sessionID).Scan(&hostID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, &ErrNotFound{}
		}
		return false, fmt.Errorf("failed to query session: %v", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM session_members WHERE session_id = $1 AND player_id = $2;`, sessionID, playerID)
	if err != nil {
		return false, fmt.Errorf("failed to delete member: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return false, &ErrNotFound{}
	}

	deleted := hostID == playerID
	if deleted {
		// members are removed by ON DELETE CASCADE
		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1;`, sessionID); err != nil {
			return false, fmt.Errorf("failed to delete session: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %v", err)
	}
	return deleted, nil
}
