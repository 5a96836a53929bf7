package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const dateLayout = "2006-01-02"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository persists portal data in Postgres.
type Repository struct {
	db   *sql.DB
	conn dbtx
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, conn: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ListSlots returns slot templates ordered by weekday and pod.
func (r *Repository) ListSlots(ctx context.Context, enabledOnly bool) ([]Slot, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, name, pod, description, enabled
		FROM slots
		WHERE enabled OR NOT $1
		ORDER BY array_position(ARRAY['mon','tue','wed','thu','fri','sat','sun'], name),
		         array_position(ARRAY['morning','afternoon','evening'], pod)
	`, enabledOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.Name, &s.Pod, &s.Description, &s.Enabled); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetSlot returns the template for (name, pod).
func (r *Repository) GetSlot(ctx context.Context, name string, pod Pod) (Slot, error) {
	var s Slot
	err := r.conn.QueryRowContext(ctx, `
		SELECT id, name, pod, description, enabled FROM slots WHERE name = $1 AND pod = $2
	`, name, pod).Scan(&s.ID, &s.Name, &s.Pod, &s.Description, &s.Enabled)
	return s, notFound(err)
}

// SpecialDatesOn returns every override registered for date.
func (r *Repository) SpecialDatesOn(ctx context.Context, date time.Time) ([]SpecialDate, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, date, pod, free_slots, closed, message
		FROM special_dates WHERE date = $1
	`, date.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SpecialDate
	for rows.Next() {
		var (
			sd   SpecialDate
			pod  sql.NullString
			free sql.NullInt64
		)
		if err := rows.Scan(&sd.ID, &sd.Date, &pod, &free, &sd.Closed, &sd.Message); err != nil {
			return nil, err
		}
		if pod.Valid {
			p := Pod(pod.String)
			sd.Pod = &p
		}
		if free.Valid {
			n := int(free.Int64)
			sd.FreeSlots = &n
		}
		sd.Date = Day(sd.Date)
		res = append(res, sd)
	}
	return res, rows.Err()
}

// CountPresences counts registrations on (date, pod) made by supervisors or by members.
func (r *Repository) CountPresences(ctx context.Context, date time.Time, pod Pod, supervisors bool) (int, error) {
	var n int
	err := r.conn.QueryRowContext(ctx, `
		SELECT count(*)
		FROM presences p JOIN users u ON u.id = p.user_id
		WHERE p.date = $1 AND p.pod = $2 AND (u.role = 'supervisor') = $3
	`, date.Format(dateLayout), pod, supervisors).Scan(&n)
	return n, err
}

// CountUserPresences counts the user's registrations on any of dates.
func (r *Repository) CountUserPresences(ctx context.Context, userID int64, dates []time.Time) (int, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	days := make([]string, len(dates))
	for i, d := range dates {
		days[i] = d.Format(dateLayout)
	}
	var n int
	err := r.conn.QueryRowContext(ctx, `
		SELECT count(*) FROM presences WHERE user_id = $1 AND date = ANY($2::date[])
	`, userID, pq.Array(days)).Scan(&n)
	return n, err
}

const presenceColumns = `id, user_id, date, pod, seen, seen_by, created_at`

func scanPresence(row interface{ Scan(...any) error }) (Presence, error) {
	var p Presence
	if err := row.Scan(&p.ID, &p.UserID, &p.Date, &p.Pod, &p.Seen, &p.SeenBy, &p.CreatedAt); err != nil {
		return Presence{}, err
	}
	p.Date = Day(p.Date)
	return p, nil
}

// CreatePresence inserts a registration. A conflicting (user, date, pod) yields errDuplicate.
func (r *Repository) CreatePresence(ctx context.Context, p Presence) (Presence, error) {
	row := r.conn.QueryRowContext(ctx, `
		INSERT INTO presences (user_id, date, pod, seen, seen_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, date, pod) DO NOTHING
		RETURNING `+presenceColumns,
		p.UserID, p.Date.Format(dateLayout), p.Pod, p.Seen, p.SeenBy)
	created, err := scanPresence(row)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return Presence{}, errDuplicate
	}
	return created, err
}

// GetPresence returns the registration of user on (date, pod).
func (r *Repository) GetPresence(ctx context.Context, userID int64, date time.Time, pod Pod) (Presence, error) {
	row := r.conn.QueryRowContext(ctx, `
		SELECT `+presenceColumns+` FROM presences WHERE user_id = $1 AND date = $2 AND pod = $3
	`, userID, date.Format(dateLayout), pod)
	p, err := scanPresence(row)
	return p, notFound(err)
}

// GetPresenceByID returns a single registration.
func (r *Repository) GetPresenceByID(ctx context.Context, id int64) (Presence, error) {
	row := r.conn.QueryRowContext(ctx, `SELECT `+presenceColumns+` FROM presences WHERE id = $1`, id)
	p, err := scanPresence(row)
	return p, notFound(err)
}

// DeletePresence removes a registration.
func (r *Repository) DeletePresence(ctx context.Context, id int64) error {
	res, err := r.conn.ExecContext(ctx, `DELETE FROM presences WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSeen updates the attendance flag of a registration.
func (r *Repository) SetSeen(ctx context.Context, id int64, seen bool, by SeenBy) error {
	_, err := r.conn.ExecContext(ctx, `
		UPDATE presences SET seen = $2, seen_by = $3 WHERE id = $1
	`, id, seen, by)
	return err
}

// MarkSeenOn confirms every registration of user on date and returns how many rows matched.
func (r *Repository) MarkSeenOn(ctx context.Context, userID int64, date time.Time, by SeenBy) (int, error) {
	res, err := r.conn.ExecContext(ctx, `
		UPDATE presences SET seen = TRUE, seen_by = $3 WHERE user_id = $1 AND date = $2
	`, userID, date.Format(dateLayout), by)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListPresenceEntries returns member registrations on (date, pod) with display names.
func (r *Repository) ListPresenceEntries(ctx context.Context, date time.Time, pod Pod) ([]PresenceEntry, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT p.id, p.seen, p.seen_by, trim(u.first_name || ' ' || u.last_name),
		       coalesce(i.stripcard_used, 0), coalesce(i.stripcard_count, 0)
		FROM presences p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN user_info i ON i.user_id = u.id
		WHERE p.date = $1 AND p.pod = $2 AND u.role <> 'supervisor'
		ORDER BY u.first_name, u.last_name
	`, date.Format(dateLayout), pod)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PresenceEntry
	for rows.Next() {
		var e PresenceEntry
		if err := rows.Scan(&e.ID, &e.Seen, &e.SeenBy, &e.Name, &e.StripcardUsed, &e.StripcardCount); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListSeenUsernames returns usernames with confirmed attendance on (date, pod).
func (r *Repository) ListSeenUsernames(ctx context.Context, date time.Time, pod Pod) ([]string, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT u.username FROM presences p JOIN users u ON u.id = p.user_id
		WHERE p.date = $1 AND p.pod = $2 AND p.seen
		ORDER BY u.username
	`, date.Format(dateLayout), pod)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

// CountSeenSince counts confirmed attendances of username on or after from.
func (r *Repository) CountSeenSince(ctx context.Context, username string, from time.Time) (int, error) {
	var n int
	err := r.conn.QueryRowContext(ctx, `
		SELECT count(*) FROM presences p JOIN users u ON u.id = p.user_id
		WHERE u.username = $1 AND p.date >= $2 AND p.seen
	`, username, from.Format(dateLayout)).Scan(&n)
	return n, err
}

const userColumns = `u.id, u.username, u.first_name, u.last_name, u.email, u.role, u.is_active,
	coalesce(i.days, 0), coalesce(i.account_type, ''), coalesce(i.stripcard_used, 0),
	coalesce(i.stripcard_count, 0), i.stripcard_expires`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		u       User
		expires sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email, &u.Role, &u.Active,
		&u.Info.Days, &u.Info.AccountType, &u.Info.StripcardUsed, &u.Info.StripcardCount, &expires)
	if err != nil {
		return User{}, err
	}
	if expires.Valid {
		t := Day(expires.Time)
		u.Info.StripcardExpires = &t
	}
	return u, nil
}

// GetUser returns a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	row := r.conn.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users u LEFT JOIN user_info i ON i.user_id = u.id WHERE u.id = $1
	`, id)
	u, err := scanUser(row)
	return u, notFound(err)
}

// GetUserByUsername returns a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := r.conn.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users u LEFT JOIN user_info i ON i.user_id = u.id WHERE u.username = $1
	`, username)
	u, err := scanUser(row)
	return u, notFound(err)
}

// UpsertUser creates or updates a user and its quota row.
func (r *Repository) UpsertUser(ctx context.Context, u User) (User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (username, first_name, last_name, email, role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id
	`, u.Username, u.FirstName, u.LastName, u.Email, u.Role, u.Active).Scan(&u.ID)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}

	var expires any
	if u.Info.StripcardExpires != nil {
		expires = u.Info.StripcardExpires.Format(dateLayout)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_info (user_id, days, account_type, stripcard_used, stripcard_count, stripcard_expires)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			days = EXCLUDED.days,
			account_type = EXCLUDED.account_type,
			stripcard_used = EXCLUDED.stripcard_used,
			stripcard_count = EXCLUDED.stripcard_count,
			stripcard_expires = EXCLUDED.stripcard_expires
	`, u.ID, u.Info.Days, u.Info.AccountType, u.Info.StripcardUsed, u.Info.StripcardCount, expires)
	if err != nil {
		return User{}, fmt.Errorf("upsert user info: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return User{}, err
	}
	return u, nil
}

// ListActiveUsers returns active users ordered by name.
func (r *Repository) ListActiveUsers(ctx context.Context) ([]User, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users u LEFT JOIN user_info i ON i.user_id = u.id
		WHERE u.is_active ORDER BY u.first_name, u.last_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UserByMAC returns the owner of a device.
func (r *Repository) UserByMAC(ctx context.Context, mac string) (User, error) {
	row := r.conn.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM mac_addresses m
		JOIN users u ON u.id = m.user_id
		LEFT JOIN user_info i ON i.user_id = u.id
		WHERE m.mac = $1
	`, mac)
	u, err := scanUser(row)
	return u, notFound(err)
}

// WithinSlotLock serialises fn with other callers locking the same (date, pod).
func (r *Repository) WithinSlotLock(ctx context.Context, date time.Time, pod Pod, fn func(Store) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	key := date.Format(dateLayout) + "/" + string(pod)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("slot lock: %w", err)
	}
	if err := fn(&Repository{db: r.db, conn: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Admin helpers used by seeding and integration tests.

// CreateSlot inserts a slot template.
func (r *Repository) CreateSlot(ctx context.Context, s Slot) (Slot, error) {
	err := r.conn.QueryRowContext(ctx, `
		INSERT INTO slots (name, pod, description, enabled) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, pod) DO UPDATE SET description = EXCLUDED.description, enabled = EXCLUDED.enabled
		RETURNING id
	`, s.Name, s.Pod, s.Description, s.Enabled).Scan(&s.ID)
	return s, err
}

// CreateSpecialDate inserts an override.
func (r *Repository) CreateSpecialDate(ctx context.Context, sd SpecialDate) (SpecialDate, error) {
	var pod, free any
	if sd.Pod != nil {
		pod = string(*sd.Pod)
	}
	if sd.FreeSlots != nil {
		free = *sd.FreeSlots
	}
	err := r.conn.QueryRowContext(ctx, `
		INSERT INTO special_dates (date, pod, free_slots, closed, message)
		VALUES ($1, $2, $3, $4, $5) RETURNING id
	`, sd.Date.Format(dateLayout), pod, free, sd.Closed, sd.Message).Scan(&sd.ID)
	return sd, err
}

// AddMacAddress links a device to a user.
func (r *Repository) AddMacAddress(ctx context.Context, userID int64, mac string) error {
	mac, err := NormalizeMAC(mac)
	if err != nil {
		return err
	}
	_, err = r.conn.ExecContext(ctx, `
		INSERT INTO mac_addresses (user_id, mac) VALUES ($1, $2)
		ON CONFLICT (mac) DO UPDATE SET user_id = EXCLUDED.user_id
	`, userID, mac)
	return err
}
