package repositories

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/cbodonnell/lobbysync/pkg/repositories/models"
)

type Repository interface {
	Close(ctx context.Context) error
	// CreateUser returns the user with the given id, creating it if needed.
	CreateUser(ctx context.Context, userID string) (*models.User, error)
	// ListSessions returns unlocked sessions, oldest first.
	ListSessions(ctx context.Context) ([]*models.Session, error)
	// CreateSession stores a session and seats its host.
	CreateSession(ctx context.Context, session *models.Session) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	// JoinSession seats playerID. Joining a session twice is a no-op.
	JoinSession(ctx context.Context, sessionID string, playerID string) (*models.Session, error)
	LockSession(ctx context.Context, sessionID string) error
	// LeaveSession frees playerID's seat. When the host leaves the session is
	// deleted and deleted is true.
	LeaveSession(ctx context.Context, sessionID string, playerID string) (deleted bool, err error)
}

// New opens the repository named by databaseURL, which is either
// sqlite://<path> or a postgres:// connection string.
func New(ctx context.Context, databaseURL string) (Repository, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return NewSQLiteRepository(ctx, strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresRepository(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database url %q", databaseURL)
	}
}

//go:embed migrations
var migrations embed.FS

type migration struct {
	name string
	sql  string
}

// readMigrations returns the migrations for dialect in name order.
func readMigrations(dialect string) ([]migration, error) {
	dir := "migrations/" + dialect
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := make([]migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		b, err := fs.ReadFile(migrations, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %v", entry.Name(), err)
		}
		result = append(result, migration{name: entry.Name(), sql: string(b)})
	}
	return result, nil
}
