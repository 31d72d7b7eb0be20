package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "cohortlive/pkg/database"
	"cohortlive/pkg/interfaces"
	"cohortlive/pkg/types"
)

// Manager is the SQLite implementation of interfaces.SessionStore,
// interfaces.CurriculumStore and interfaces.Directory.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

const sessionColumns = `id, join_code, instructor_id, curriculum_unit_id, current_step,
	current_section, is_active, started_at, ended_at`

// NewManager opens the database and starts the writer goroutine. Migrations
// are applied separately through pkg/database.MigrationManager.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine. Failed
// writes are reported to the caller as-is; every write is a conditional
// statement, so retrying is the caller's decision.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("database: write failed: %v", err)
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("database: write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	// Once queued the operation runs to completion; its own statements
	// observe ctx.
	return <-result
}

// CreateSession inserts a new active session.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO sessions (id, join_code, instructor_id, curriculum_unit_id,
				current_step, current_section, is_active, started_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		`
		_, err := db.ExecContext(ctx, query,
			session.ID,
			session.JoinCode,
			session.InstructorID,
			session.CurriculumUnitID,
			session.CurrentStep,
			session.CurrentSection,
			session.StartedAt,
		)
		if err != nil {
			if isUniqueViolation(err, "sessions.join_code") {
				return interfaces.ErrJoinCodeTaken
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// ActiveJoinCodeExists reports whether an active session holds joinCode.
func (m *Manager) ActiveJoinCodeExists(ctx context.Context, joinCode string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE join_code = ? AND is_active = 1)`,
		joinCode,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check join code: %w", err)
	}
	return exists, nil
}

// GetSessionByJoinCode prefers the active holder of the code, then the most
// recently started historical one. The column collates NOCASE.
func (m *Manager) GetSessionByJoinCode(ctx context.Context, joinCode string) (*types.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE join_code = ?
		ORDER BY is_active DESC, started_at DESC, rowid DESC
		LIMIT 1
	`
	session, err := scanSession(m.db.QueryRowContext(ctx, query, joinCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// ListActiveSessionsByInstructor returns the instructor's active sessions,
// newest first.
func (m *Manager) ListActiveSessionsByInstructor(ctx context.Context, instructorID string) ([]*types.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE instructor_id = ? AND is_active = 1
		ORDER BY started_at DESC
	`
	rows, err := m.db.QueryContext(ctx, query, instructorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]*types.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// EndSession flips the session and deactivates its memberships in one
// transaction.
func (m *Manager) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (bool, int, error) {
	var ended bool
	var deactivated int

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET is_active = 0, ended_at = ? WHERE id = ? AND is_active = 1`,
			endedAt, sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE memberships SET is_active = 0, left_at = ? WHERE session_id = ? AND is_active = 1`,
			endedAt, sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to deactivate memberships: %w", err)
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session end: %w", err)
		}
		ended = true
		deactivated = int(removed)
		return nil
	})
	return ended, deactivated, err
}

// ApplyPositionChange runs the read-modify-write as one guarded UPDATE. The
// guard covers ownership and liveness. A non-empty request id is recorded in
// the same transaction, so a retry of any earlier request is not applied
// again. When nothing applies, applied is false and the caller re-reads to
// find out why.
func (m *Manager) ApplyPositionChange(ctx context.Context, change types.PositionChange) (types.Position, bool, error) {
	var pos types.Position
	var applied bool

	var step sql.NullInt64
	if change.Step != nil {
		step = sql.NullInt64{Int64: int64(*change.Step), Valid: true}
	}
	var section sql.NullString
	if change.Section != nil {
		section = sql.NullString{String: *change.Section, Valid: true}
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if change.RequestID != "" {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO position_requests (session_id, request_id, applied_at)
				 VALUES (?, ?, ?) ON CONFLICT (session_id, request_id) DO NOTHING`,
				change.SessionID, change.RequestID, time.Now().UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to record request id: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
		}

		query := `
			UPDATE sessions
			SET current_step = MAX(1, COALESCE(?, current_step + ?)),
				current_section = COALESCE(?, current_section)
			WHERE id = ? AND instructor_id = ? AND is_active = 1
			RETURNING current_step, current_section
		`
		err = tx.QueryRowContext(ctx, query,
			step, change.StepDelta,
			section,
			change.SessionID, change.InstructorID,
		).Scan(&pos.CurrentStep, &pos.CurrentSection)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Rolled back, so the request id stays unused.
				return nil
			}
			return fmt.Errorf("failed to update position: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit position change: %w", err)
		}
		applied = true
		return nil
	})
	return pos, applied, err
}

// UpsertMembership activates the pair's membership with a single upsert.
func (m *Manager) UpsertMembership(ctx context.Context, membership *types.Membership) (bool, error) {
	var gained bool

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		// The SELECT needs its WHERE clause for SQLite to parse the upsert.
		query := `
			INSERT INTO memberships (id, session_id, participant_id, is_active, joined_at)
			SELECT ?, ?, ?, 1, ?
			WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ? AND is_active = 1)
			ON CONFLICT (session_id, participant_id) DO UPDATE
				SET is_active = 1, left_at = NULL, joined_at = excluded.joined_at
				WHERE memberships.is_active = 0
		`
		res, err := db.ExecContext(ctx, query,
			membership.ID,
			membership.SessionID,
			membership.ParticipantID,
			membership.JoinedAt,
			membership.SessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert membership: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			gained = true
			return nil
		}

		// Nothing changed: either the session is not live or the member
		// was already active.
		var active bool
		err = db.QueryRowContext(ctx, `SELECT is_active FROM sessions WHERE id = ?`, membership.SessionID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check session: %w", err)
		}
		if !active {
			return interfaces.ErrSessionNotWritable
		}
		return nil
	})
	return gained, err
}

// GetMembership returns the membership row for a (session, participant) pair.
func (m *Manager) GetMembership(ctx context.Context, sessionID, participantID string) (*types.Membership, error) {
	query := `
		SELECT id, session_id, participant_id, is_active, joined_at, left_at
		FROM memberships
		WHERE session_id = ? AND participant_id = ?
	`
	membership, err := scanMembership(m.db.QueryRowContext(ctx, query, sessionID, participantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to query membership: %w", err)
	}
	return membership, nil
}

// DeactivateMembership marks the pair's active membership inactive.
func (m *Manager) DeactivateMembership(ctx context.Context, sessionID, participantID string, leftAt time.Time) (bool, error) {
	var left bool
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE memberships SET is_active = 0, left_at = ?
			 WHERE session_id = ? AND participant_id = ? AND is_active = 1`,
			leftAt, sessionID, participantID,
		)
		if err != nil {
			return fmt.Errorf("failed to deactivate membership: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		left = n > 0
		return nil
	})
	return left, err
}

// CountActiveMemberships returns the roster size of a session.
func (m *Manager) CountActiveMemberships(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE session_id = ? AND is_active = 1`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return count, nil
}

// ListActiveMemberships returns the roster, first joined first.
func (m *Manager) ListActiveMemberships(ctx context.Context, sessionID string) ([]*types.Membership, error) {
	query := `
		SELECT id, session_id, participant_id, is_active, joined_at, left_at
		FROM memberships
		WHERE session_id = ? AND is_active = 1
		ORDER BY joined_at ASC, rowid ASC
	`
	rows, err := m.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	memberships := make([]*types.Membership, 0)
	for rows.Next() {
		membership, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership row: %w", err)
		}
		memberships = append(memberships, membership)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating membership rows: %w", err)
	}
	return memberships, nil
}

// GetCurriculumUnit resolves a unit from the local copy of the curriculum.
func (m *Manager) GetCurriculumUnit(ctx context.Context, unitID string) (*types.CurriculumUnit, error) {
	var unit types.CurriculumUnit
	err := m.db.QueryRowContext(ctx,
		`SELECT id, title FROM curriculum_units WHERE id = ?`, unitID,
	).Scan(&unit.ID, &unit.Title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUnitNotFound
		}
		return nil, fmt.Errorf("failed to query curriculum unit: %w", err)
	}
	return &unit, nil
}

// GetUser resolves a user's display data.
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var user types.User
	err := m.db.QueryRowContext(ctx,
		`SELECT id, display_name, role FROM users WHERE id = ?`, userID,
	).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// DisplayNames returns display names for the known ids among userIDs.
func (m *Manager) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")
	args := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT id, display_name FROM users WHERE id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query display names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

// PutCurriculumUnit inserts or refreshes the local copy of a unit. The
// curriculum service owns units; this keeps referential checks local.
func (m *Manager) PutCurriculumUnit(ctx context.Context, unit *types.CurriculumUnit) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO curriculum_units (id, title) VALUES (?, ?)
			 ON CONFLICT (id) DO UPDATE SET title = excluded.title`,
			unit.ID, unit.Title,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert curriculum unit: %w", err)
		}
		return nil
	})
}

// PutUser inserts or refreshes the local copy of a user.
func (m *Manager) PutUser(ctx context.Context, user *types.User) error {
	role := user.Role
	if role == "" {
		role = types.RoleParticipant
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (id, display_name, role) VALUES (?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, role = excluded.role`,
			user.ID, user.DisplayName, role,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE is_active = 1").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var endedAt sql.NullTime
	err := row.Scan(
		&session.ID,
		&session.JoinCode,
		&session.InstructorID,
		&session.CurriculumUnitID,
		&session.CurrentStep,
		&session.CurrentSection,
		&session.IsActive,
		&session.StartedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		session.EndedAt = &t
	}
	return &session, nil
}

func scanMembership(row rowScanner) (*types.Membership, error) {
	var membership types.Membership
	var leftAt sql.NullTime
	err := row.Scan(
		&membership.ID,
		&membership.SessionID,
		&membership.ParticipantID,
		&membership.IsActive,
		&membership.JoinedAt,
		&leftAt,
	)
	if err != nil {
		return nil, err
	}
	if leftAt.Valid {
		t := leftAt.Time
		membership.LeftAt = &t
	}
	return &membership, nil
}

// isUniqueViolation reports a UNIQUE failure on column ("table.column").
func isUniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return strings.Contains(sqliteErr.Error(), column)
}

// applySQLiteOptimizations applies performance optimizations
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
