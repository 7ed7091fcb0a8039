package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cbodonnell/lobbysync/pkg/repositories/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository opens the database at path and applies migrations.
// ":memory:" gives a private in-memory database.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		// immediate transactions serialize concurrent joins
		dsn += "?_busy_timeout=5000&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	if path == ":memory:" {
		// every connection would otherwise get its own database
		db.SetMaxOpenConns(1)
	}

	migrations, err := readMigrations("sqlite")
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute migration %s: %v", m.name, err)
		}
	}

	return &SQLiteRepository{
		db:  db,
		now: time.Now,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, userID string) (*models.User, error) {
	q := `INSERT OR IGNORE INTO users (id) VALUES (?);`
	if _, err := r.db.ExecContext(ctx, q, userID); err != nil {
		return nil, fmt.Errorf("failed to insert user: %v", err)
	}
	return &models.User{ID: userID}, nil
}

const sqliteSelectSession = `
SELECT s.id, s.name, s.host_id, s.max_players, s.locked, s.properties, s.created_at,
	(SELECT COUNT(*) FROM session_members m WHERE m.session_id = s.id)
FROM sessions s
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (*models.Session, error) {
	s := &models.Session{}
	var properties string
	if err := row.Scan(&s.ID, &s.Name, &s.HostID, &s.MaxPlayers, &s.Locked, &properties, &s.CreatedAt, &s.PlayerCount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(properties), &s.Properties); err != nil {
		return nil, fmt.Errorf("failed to decode properties of session %s: %v", s.ID, err)
	}
	return s, nil
}

func (r *SQLiteRepository) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, sqliteSelectSession+`WHERE s.locked = FALSE ORDER BY s.created_at, s.id;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %v", err)
	}
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		s, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %v", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %v", err)
	}
	return sessions, nil
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, session *models.Session) (*models.Session, error) {
	properties, err := json.Marshal(session.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %v", err)
	}
	id := session.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := r.now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	q := `
	INSERT INTO sessions (id, name, host_id, max_players, locked, properties, created_at)
	VALUES (?, ?, ?, ?, FALSE, ?, ?);
	`
	if _, err := tx.ExecContext(ctx, q, id, session.Name, session.HostID, session.MaxPlayers, string(properties), now); err != nil {
		return nil, fmt.Errorf("failed to insert session: %v", err)
	}
	q = `INSERT INTO session_members (session_id, player_id, joined_at) VALUES (?, ?, ?);`
	if _, err := tx.ExecContext(ctx, q, id, session.HostID, now); err != nil {
		return nil, fmt.Errorf("failed to insert host: %v", err)
	}

	created, err := scanSQLiteSession(tx.QueryRowContext(ctx, sqliteSelectSession+`WHERE s.id = ?;`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %v", err)
	}
	return created, nil
}

func (r *SQLiteRepository) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := scanSQLiteSession(r.db.QueryRowContext(ctx, sqliteSelectSession+`WHERE s.id = ?;`, sessionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan session: %v", err)
	}
	return s, nil
}

func (r *SQLiteRepository) JoinSession(ctx context.Context, sessionID string, playerID string) (*models.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	get := func() (*models.Session, error) {
		s, err := scanSQLiteSession(tx.QueryRowContext(ctx, sqliteSelectSession+`WHERE s.id = ?;`, sessionID))
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return s, err
	}

	s, err := get()
	if err != nil {
		return nil, err
	}

	var member int
	q := `SELECT COUNT(*) FROM session_members WHERE session_id = ? AND player_id = ?;`
	if err := tx.QueryRowContext(ctx, q, sessionID, playerID).Scan(&member); err != nil {
		return nil, fmt.Errorf("failed to query membership: %v", err)
	}
	if member > 0 {
		return s, nil
	}
	if s.Locked {
		return nil, &ErrSessionLocked{SessionID: sessionID}
	}
	if s.Full() {
		return nil, &ErrSessionFull{SessionID: sessionID}
	}

	q = `INSERT INTO session_members (session_id, player_id, joined_at) VALUES (?, ?, ?);`
	if _, err := tx.ExecContext(ctx, q, sessionID, playerID, r.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to insert member: %v", err)
	}
	s, err = get()
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %v", err)
	}
	return s, nil
}

func (r *SQLiteRepository) LockSession(ctx context.Context, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET locked = TRUE WHERE id = ?;`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to lock session: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %v", err)
	}
	if n == 0 {
		return &ErrNotFound{}
	}
	return nil
}

func (r *SQLiteRepository) LeaveSession(ctx context.Context, sessionID string, playerID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	var hostID string
	if err := tx.QueryRowContext(ctx, `SELECT host_id FROM sessions WHERE id = ?;`, sessionID).Scan(&hostID); err != nil {
		if err == sql.ErrNoRows {
			return false, &ErrNotFound{}
		}
		return false, fmt.Errorf("failed to query session: %v", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM session_members WHERE session_id = ? AND player_id = ?;`, sessionID, playerID)
	if err != nil {
		return false, fmt.Errorf("failed to delete member: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %v", err)
	}
	if n == 0 {
		return false, &ErrNotFound{}
	}

	deleted := hostID == playerID
	if deleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_members WHERE session_id = ?;`, sessionID); err != nil {
			return false, fmt.Errorf("failed to delete members: %v", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?;`, sessionID); err != nil {
			return false, fmt.Errorf("failed to delete session: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %v", err)
	}
	return deleted, nil
}
