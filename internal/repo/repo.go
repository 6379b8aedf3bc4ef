package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"raidbot/internal/engine"
	"raidbot/internal/model"
)

// lockTimeout bounds how long a transaction may wait for an event's row
// lock before the attempt fails instead of hanging on a stuck holder.
const lockTimeout = 5 * time.Second

const eventColumns = `id, name, start_time, tank_slots, support_slots, dps_slots,
	       status, locked, published, reminded, created_at, updated_at`

const registrationColumns = `id, event_id, participant_id, role, kind, status,
	       character_name, build, registered_at`

type Repository interface {
	engine.Locker

	CreateEvent(ctx context.Context, e *model.Event) (int64, error)
	GetEventByID(ctx context.Context, id int64) (*model.Event, error)
	GetAllEvents(ctx context.Context) ([]model.Event, error)
	ListOpenEvents(ctx context.Context) ([]model.Event, error)
	CountOpenEvents(ctx context.Context) (int, error)
	SetEventPublished(ctx context.Context, id int64, published bool) error
	GetRegistrationsByEventID(ctx context.Context, eventID int64) ([]model.Registration, error)

	Ping() error
	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

type repository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: db, log: log}, nil
}

func (r *repository) Ping() error {
	return r.db.Master.Ping()
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := ioutil.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := ioutil.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

// WithEventLock acquires the event's row lock via SELECT ... FOR UPDATE and
// runs fn inside the same transaction. Concurrent calls for the same event
// serialize on the row lock; other events are untouched. Any error from fn
// rolls the whole transaction back.
func (r *repository) WithEventLock(ctx context.Context, eventID int64, fn func(ctx context.Context, tx engine.Tx, ev *model.Event) error) error {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", engine.ErrTransactionFailed, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var ev model.Event
	err = tx.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = $1
		FOR UPDATE
	`, eventID).Scan(
		&ev.ID, &ev.Name, &ev.StartTime, &ev.TankSlots, &ev.SupportSlots, &ev.DPSSlots,
		&ev.Status, &ev.Locked, &ev.Published, &ev.Reminded, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return engine.ErrEventNotFound
		}
		return fmt.Errorf("%w: acquire event lock: %v", engine.ErrTransactionFailed, err)
	}

	if err := fn(ctx, &txStore{tx: tx}, &ev); err != nil {
		_ = tx.Rollback()
		return translateErr(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", engine.ErrTransactionFailed, translateErr(err))
	}
	return nil
}

// translateErr maps driver-level failures onto the engine's taxonomy.
// A unique violation on (event_id, participant_id) means a racing insert
// slipped past the in-transaction guard.
func translateErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return engine.ErrAlreadyRegistered
	}
	return err
}

// txStore exposes store operations bound to one open event transaction.
type txStore struct {
	tx *sql.Tx
}

func (s *txStore) CountOccupancy(ctx context.Context, eventID int64) (map[model.Role]int, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT role, COUNT(*)
		FROM registrations
		WHERE event_id = $1 AND status IN ('active', 'assist')
		GROUP BY role
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to count occupancy: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Role]int, len(model.Roles))
	for rows.Next() {
		var role model.Role
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("failed to scan occupancy row: %w", err)
		}
		counts[role] = n
	}
	return counts, rows.Err()
}

func (s *txStore) GetRegistration(ctx context.Context, eventID int64, participantID string) (*model.Registration, error) {
	row := s.tx.QueryRowContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND participant_id = $2
	`, eventID, participantID)
	return scanRegistration(row)
}

func (s *txStore) InsertRegistration(ctx context.Context, reg *model.Registration) error {
	err := s.tx.QueryRowContext(ctx, `
		INSERT INTO registrations (event_id, participant_id, role, kind, status, character_name, build, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, registered_at
	`, reg.EventID, reg.ParticipantID, reg.Role, reg.Kind, reg.Status, reg.CharacterName, reg.Build,
	).Scan(&reg.ID, &reg.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to insert registration: %w", translateErr(err))
	}
	return nil
}

func (s *txStore) UpdateRegistrationStatus(ctx context.Context, regID int64, status model.Status) error {
	res, err := s.tx.ExecContext(ctx, `
		UPDATE registrations SET status = $1 WHERE id = $2
	`, status, regID)
	if err != nil {
		return fmt.Errorf("failed to update registration status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("registration %d not found", regID)
	}
	return nil
}

func (s *txStore) DeleteRegistration(ctx context.Context, eventID int64, participantID string) error {
	res, err := s.tx.ExecContext(ctx, `
		DELETE FROM registrations WHERE event_id = $1 AND participant_id = $2
	`, eventID, participantID)
	if err != nil {
		return fmt.Errorf("failed to delete registration: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return engine.ErrNotRegistered
	}
	return nil
}

func (s *txStore) LowestPriorityHolder(ctx context.Context, eventID int64, role model.Role) (*model.Registration, error) {
	// Assist-status holders are demoted before active ones; within the same
	// status the most recent signup loses its place first.
	row := s.tx.QueryRowContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND role = $2 AND status IN ('active', 'assist')
		ORDER BY CASE status WHEN 'assist' THEN 0 ELSE 1 END,
		         registered_at DESC, id DESC
		LIMIT 1
	`, eventID, role)
	return scanRegistration(row)
}

func (s *txStore) EarliestWaitlisted(ctx context.Context, eventID int64, role model.Role) (*model.Registration, error) {
	row := s.tx.QueryRowContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND role = $2 AND status = 'waitlist'
		ORDER BY registered_at ASC, id ASC
		LIMIT 1
	`, eventID, role)
	return scanRegistration(row)
}

func (s *txStore) UpdateEventStatus(ctx context.Context, eventID int64, status model.EventStatus) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE events SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, eventID)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return nil
}

func (s *txStore) SetEventLocked(ctx context.Context, eventID int64, locked bool) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE events SET locked = $1, updated_at = NOW() WHERE id = $2
	`, locked, eventID)
	if err != nil {
		return fmt.Errorf("failed to set event locked flag: %w", err)
	}
	return nil
}

func (s *txStore) MarkEventReminded(ctx context.Context, eventID int64) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE events SET reminded = TRUE, updated_at = NOW() WHERE id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event reminded: %w", err)
	}
	return nil
}

func (r *repository) CreateEvent(ctx context.Context, e *model.Event) (int64, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO events (name, start_time, tank_slots, support_slots, dps_slots, status, locked, published, reminded)
		VALUES ($1, $2, $3, $4, $5, 'open', FALSE, FALSE, FALSE)
		RETURNING id
	`, e.Name, e.StartTime, e.TankSlots, e.SupportSlots, e.DPSSlots)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

func (r *repository) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events WHERE id = $1
	`, id)

	var e model.Event
	if err := row.Scan(
		&e.ID, &e.Name, &e.StartTime, &e.TankSlots, &e.SupportSlots, &e.DPSSlots,
		&e.Status, &e.Locked, &e.Published, &e.Reminded, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, engine.ErrEventNotFound
	}
	return &e, nil
}

func (r *repository) GetAllEvents(ctx context.Context) ([]model.Event, error) {
	return r.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events
		ORDER BY start_time DESC
	`)
}

func (r *repository) ListOpenEvents(ctx context.Context) ([]model.Event, error) {
	return r.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE status = 'open'
		ORDER BY start_time ASC
	`)
}

func (r *repository) queryEvents(ctx context.Context, query string) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(
			&e.ID, &e.Name, &e.StartTime, &e.TankSlots, &e.SupportSlots, &e.DPSSlots,
			&e.Status, &e.Locked, &e.Published, &e.Reminded, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *repository) CountOpenEvents(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE status = 'open'
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open events: %w", err)
	}
	return count, nil
}

func (r *repository) SetEventPublished(ctx context.Context, id int64, published bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events SET published = $1, updated_at = NOW() WHERE id = $2
	`, published, id)
	if err != nil {
		return fmt.Errorf("failed to set event published flag: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return engine.ErrEventNotFound
	}
	return nil
}

func (r *repository) GetRegistrationsByEventID(ctx context.Context, eventID int64) ([]model.Registration, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1
		ORDER BY CASE status WHEN 'active' THEN 0 WHEN 'assist' THEN 1 ELSE 2 END,
		         registered_at ASC, id ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		var reg model.Registration
		if err := rows.Scan(
			&reg.ID, &reg.EventID, &reg.ParticipantID, &reg.Role, &reg.Kind, &reg.Status,
			&reg.CharacterName, &reg.Build, &reg.RegisteredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (*model.Registration, error) {
	var reg model.Registration
	err := row.Scan(
		&reg.ID, &reg.EventID, &reg.ParticipantID, &reg.Role, &reg.Kind, &reg.Status,
		&reg.CharacterName, &reg.Build, &reg.RegisteredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan registration: %w", err)
	}
	return &reg, nil
}
