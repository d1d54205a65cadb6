package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	appLog "staysync/internal/log"
	"staysync/internal/model"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	defaultWaitTimeout = 30 * time.Second
	keyChunkSize       = 500
)

// Options selects and tunes the SQL backend.
type Options struct {
	Driver string
	DSN    string
	// WaitTimeout bounds how long Open keeps retrying the first ping.
	WaitTimeout time.Duration
}

// SQLStore implements Store on top of sqlx for SQLite and PostgreSQL.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

var _ Store = (*SQLStore)(nil)

// Open connects to the database and waits until it answers a ping, retrying
// with backoff for up to opts.WaitTimeout. It does not migrate.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	driver, dsn, err := normalizeDriver(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer at a time; busy_timeout in the DSN covers the rest.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	wait := opts.WaitTimeout
	if wait <= 0 {
		wait = defaultWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	err = retry.Do(
		func() error { return db.PingContext(waitCtx) },
		retry.Context(waitCtx),
		retry.Attempts(0),
		retry.Delay(250*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			appLog.Warn("database not ready, retrying", "driver", driver, "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database unreachable after %s: %w", wait, err)
	}

	appLog.Info("database connected", "driver", driver)
	return &SQLStore{db: db, driver: driver, now: time.Now}, nil
}

func normalizeDriver(driver, dsn string) (string, string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		if dsn == "" {
			return "", "", errors.New("sqlite dsn is empty")
		}
		if err := ensureSQLiteDir(dsn); err != nil {
			return "", "", err
		}
		return DriverSQLite, sqliteDSN(dsn), nil
	case "postgres", "postgresql", "pg":
		if dsn == "" {
			return "", "", errors.New("postgres dsn is empty")
		}
		return DriverPostgres, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_foreign_keys=on"
}

func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Migrate applies the embedded schema migrations for the active dialect.
func (s *SQLStore) Migrate(ctx context.Context) error {
	dialect, dir := goose.DialectSQLite3, "migrations/sqlite"
	if s.driver == DriverPostgres {
		dialect, dir = goose.DialectPostgres, "migrations/postgres"
	}
	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(dialect, s.db.DB, sub,
		goose.WithLogger(appLog.GooseLogger{}),
		goose.WithVerbose(true),
	)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	appLog.Info("database schema up to date", "applied", len(results))
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// bookingRow is the column mapping of the bookings table. Instants are unix
// seconds; list-valued provenance is JSON text.
type bookingRow struct {
	ID                 int64         `db:"id"`
	UID                string        `db:"uid"`
	Source             string        `db:"source"`
	PropertyName       string        `db:"property_name"`
	StartAt            int64         `db:"start_at"`
	EndAt              int64         `db:"end_at"`
	AllDay             bool          `db:"all_day"`
	Summary            string        `db:"summary"`
	Description        string        `db:"description"`
	Location           string        `db:"location"`
	Guests             sql.NullInt64 `db:"guests"`
	Notes              string        `db:"notes"`
	Status             string        `db:"status"`
	IsManual           bool          `db:"is_manual"`
	ManualType         string        `db:"manual_type"`
	MergedFromIDs      string        `db:"merged_from_ids"`
	SplitFromID        sql.NullInt64 `db:"split_from_id"`
	SourceSnapshot     string        `db:"source_snapshot"`
	BlockReason        string        `db:"block_reason"`
	HasConflict        bool          `db:"has_conflict"`
	IsUrgentChangeover bool          `db:"is_urgent_changeover"`
	CreatedAt          int64         `db:"created_at"`
	UpdatedAt          int64         `db:"updated_at"`
}

const bookingColumns = `id, uid, source, property_name, start_at, end_at, all_day,
	summary, description, location, guests, notes, status, is_manual, manual_type,
	merged_from_ids, split_from_id, source_snapshot, block_reason, has_conflict,
	is_urgent_changeover, created_at, updated_at`

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func (r bookingRow) toBooking() (model.Booking, error) {
	b := model.Booking{
		ID:                 model.BookingID(r.ID),
		UID:                r.UID,
		Source:             r.Source,
		PropertyName:       r.PropertyName,
		Start:              fromUnix(r.StartAt),
		End:                fromUnix(r.EndAt),
		AllDay:             r.AllDay,
		Summary:            r.Summary,
		Description:        r.Description,
		Location:           r.Location,
		Notes:              r.Notes,
		Status:             model.Status(r.Status),
		IsManual:           r.IsManual,
		ManualType:         model.ManualType(r.ManualType),
		BlockReason:        r.BlockReason,
		HasConflict:        r.HasConflict,
		IsUrgentChangeover: r.IsUrgentChangeover,
		CreatedAt:          fromUnix(r.CreatedAt),
		UpdatedAt:          fromUnix(r.UpdatedAt),
	}
	if r.Guests.Valid {
		g := int(r.Guests.Int64)
		b.Guests = &g
	}
	if r.SplitFromID.Valid {
		id := model.BookingID(r.SplitFromID.Int64)
		b.SplitFromID = &id
	}
	if r.MergedFromIDs != "" {
		if err := json.Unmarshal([]byte(r.MergedFromIDs), &b.MergedFromIDs); err != nil {
			return b, fmt.Errorf("booking %d: merged_from_ids: %w", r.ID, err)
		}
	}
	if r.SourceSnapshot != "" {
		if err := json.Unmarshal([]byte(r.SourceSnapshot), &b.SourceSnapshot); err != nil {
			return b, fmt.Errorf("booking %d: source_snapshot: %w", r.ID, err)
		}
	}
	return b, nil
}

func toBookings(rows []bookingRow) ([]model.Booking, error) {
	out := make([]model.Booking, 0, len(rows))
	for _, r := range rows {
		b, err := r.toBooking()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func encodeList(v any, empty bool) (string, error) {
	if empty {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullID(p *model.BookingID) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func (s *SQLStore) FindBookings(ctx context.Context, f Filter) ([]model.Booking, error) {
	var (
		where []string
		args  []any
	)
	if len(f.PropertyNames) > 0 {
		where = append(where, "property_name IN (?)")
		args = append(args, f.PropertyNames)
	}
	if len(f.Sources) > 0 {
		where = append(where, "source IN (?)")
		args = append(args, f.Sources)
	}
	if !f.From.IsZero() {
		where = append(where, "end_at >= ?")
		args = append(args, f.From.Unix())
	}
	if !f.To.IsZero() {
		where = append(where, "start_at <= ?")
		args = append(args, f.To.Unix())
	}
	switch f.Manual {
	case ManualOnly:
		where = append(where, "is_manual = ?")
		args = append(args, true)
	case ManualExclude:
		where = append(where, "is_manual = ?")
		args = append(args, false)
	}
	if f.ManualType != model.ManualNone {
		where = append(where, "manual_type = ?")
		args = append(args, string(f.ManualType))
	}
	if !f.IncludeCancelled {
		where = append(where, "status = ?")
		args = append(args, string(model.StatusActive))
	}
	if f.ExcludeID != 0 {
		where = append(where, "id <> ?")
		args = append(args, int64(f.ExcludeID))
	}

	q := "SELECT " + bookingColumns + " FROM bookings"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY start_at, id"

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, fmt.Errorf("find bookings: %w", err)
	}
	var rows []bookingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("find bookings: %w", err)
	}
	return toBookings(rows)
}

func (s *SQLStore) FindByKeys(ctx context.Context, keys []model.Key) (map[model.Key]model.Booking, error) {
	bySource := make(map[string][]string)
	for _, k := range keys {
		bySource[k.Source] = append(bySource[k.Source], k.UID)
	}

	out := make(map[model.Key]model.Booking, len(keys))
	for source, uids := range bySource {
		for start := 0; start < len(uids); start += keyChunkSize {
			end := min(start+keyChunkSize, len(uids))
			q, args, err := sqlx.In(
				"SELECT "+bookingColumns+" FROM bookings WHERE source = ? AND uid IN (?)",
				source, uids[start:end],
			)
			if err != nil {
				return nil, fmt.Errorf("find by keys: %w", err)
			}
			var rows []bookingRow
			if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
				return nil, fmt.Errorf("find by keys: %w", err)
			}
			bookings, err := toBookings(rows)
			if err != nil {
				return nil, err
			}
			for _, b := range bookings {
				out[b.Key()] = b
			}
		}
	}
	return out, nil
}

func (s *SQLStore) FindByID(ctx context.Context, id model.BookingID) (model.Booking, error) {
	var row bookingRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT "+bookingColumns+" FROM bookings WHERE id = ?"), int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Booking{}, ErrNotFound
	}
	if err != nil {
		return model.Booking{}, fmt.Errorf("find booking %d: %w", id, err)
	}
	return row.toBooking()
}

const upsertSQL = `
INSERT INTO bookings (uid, source, property_name, start_at, end_at, all_day,
	summary, description, location, guests, notes, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (uid, source) DO UPDATE SET
	property_name = excluded.property_name,
	start_at = excluded.start_at,
	end_at = excluded.end_at,
	all_day = excluded.all_day,
	summary = excluded.summary,
	description = excluded.description,
	location = excluded.location,
	status = CASE WHEN ? THEN excluded.status ELSE bookings.status END,
	updated_at = excluded.updated_at`

// BulkUpsert applies all ops in one transaction and returns the number of
// rows written.
func (s *SQLStore) BulkUpsert(ctx context.Context, ops []UpsertOp) (int, error) {
	if len(ops) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bulk upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(upsertSQL))
	if err != nil {
		return 0, fmt.Errorf("bulk upsert: prepare: %w", err)
	}
	defer stmt.Close()

	now := s.now().Unix()
	written := 0
	for _, op := range ops {
		b := op.Booking
		status := b.Status
		if status == "" {
			status = model.StatusActive
		}
		res, err := stmt.ExecContext(ctx,
			b.UID, b.Source, b.PropertyName, b.Start.Unix(), b.End.Unix(), b.AllDay,
			b.Summary, b.Description, b.Location, nullInt(b.Guests), b.Notes, string(status),
			now, now, op.ClearCancellation,
		)
		if err != nil {
			return written, fmt.Errorf("bulk upsert %s/%s: %w", b.Source, b.UID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			written++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bulk upsert: commit: %w", err)
	}
	return written, nil
}

// BulkUpdate applies all patches in one transaction and returns the number
// of rows changed.
func (s *SQLStore) BulkUpdate(ctx context.Context, ops []UpdateOp) (int, error) {
	if len(ops) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bulk update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().Unix()
	changed := 0
	for _, op := range ops {
		sets, args := updateSets(op)
		sets = append(sets, "updated_at = ?")
		args = append(args, now, int64(op.ID))

		q := "UPDATE bookings SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
		if err != nil {
			return changed, fmt.Errorf("bulk update booking %d: %w", op.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			changed += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bulk update: commit: %w", err)
	}
	return changed, nil
}

func updateSets(op UpdateOp) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	if op.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*op.Status))
	}
	if op.IsUrgentChangeover != nil {
		sets = append(sets, "is_urgent_changeover = ?")
		args = append(args, *op.IsUrgentChangeover)
	}
	if op.HasConflict != nil {
		sets = append(sets, "has_conflict = ?")
		args = append(args, *op.HasConflict)
	}
	if op.Start != nil {
		sets = append(sets, "start_at = ?")
		args = append(args, op.Start.Unix())
	}
	if op.End != nil {
		sets = append(sets, "end_at = ?")
		args = append(args, op.End.Unix())
	}
	if op.BlockReason != nil {
		sets = append(sets, "block_reason = ?")
		args = append(args, *op.BlockReason)
	}
	if op.ClearGuests {
		sets = append(sets, "guests = NULL")
	} else if op.Guests != nil {
		sets = append(sets, "guests = ?")
		args = append(args, int64(*op.Guests))
	}
	if op.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *op.Notes)
	}
	return sets, args
}

const insertSQL = `
INSERT INTO bookings (uid, source, property_name, start_at, end_at, all_day,
	summary, description, location, guests, notes, status, is_manual, manual_type,
	merged_from_ids, split_from_id, source_snapshot, block_reason, has_conflict,
	is_urgent_changeover, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`

// Create inserts b and fills in its ID and timestamps.
func (s *SQLStore) Create(ctx context.Context, b *model.Booking) error {
	merged, err := encodeList(b.MergedFromIDs, len(b.MergedFromIDs) == 0)
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	snapshot, err := encodeList(b.SourceSnapshot, len(b.SourceSnapshot) == 0)
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	if b.Status == "" {
		b.Status = model.StatusActive
	}
	now := s.now()

	var id int64
	err = s.db.QueryRowxContext(ctx, s.db.Rebind(insertSQL),
		b.UID, b.Source, b.PropertyName, b.Start.Unix(), b.End.Unix(), b.AllDay,
		b.Summary, b.Description, b.Location, nullInt(b.Guests), b.Notes, string(b.Status),
		b.IsManual, string(b.ManualType), merged, nullID(b.SplitFromID), snapshot,
		b.BlockReason, b.HasConflict, b.IsUrgentChangeover, now.Unix(), now.Unix(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("create booking %s/%s: %w", b.Source, b.UID, err)
	}
	b.ID = model.BookingID(id)
	b.CreatedAt = fromUnix(now.Unix())
	b.UpdatedAt = b.CreatedAt
	return nil
}

func (s *SQLStore) DeleteByID(ctx context.Context, id model.BookingID) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM bookings WHERE id = ?"), int64(id))
	if err != nil {
		return fmt.Errorf("delete booking %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSplitParts removes every split part derived from splitFromID.
func (s *SQLStore) DeleteSplitParts(ctx context.Context, splitFromID model.BookingID) (int, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM bookings WHERE split_from_id = ? AND is_manual = ? AND manual_type = ?"),
		int64(splitFromID), true, string(model.ManualSplit),
	)
	if err != nil {
		return 0, fmt.Errorf("delete split parts of %d: %w", splitFromID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

const propertyColumns = `name, display_name, group_name, cleaning_cost, COALESCE(export_token, '') AS export_token`

const propertyUpsertSQL = `
INSERT INTO properties (name, display_name, group_name, cleaning_cost, export_token, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET
	display_name = excluded.display_name,
	group_name = excluded.group_name,
	cleaning_cost = excluded.cleaning_cost,
	updated_at = excluded.updated_at`

// SyncProperties makes the properties table mirror the configured registry.
// New properties get a fresh export token; existing ones keep theirs.
// Properties no longer configured are removed along with their token.
func (s *SQLStore) SyncProperties(ctx context.Context, props []model.Property) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync properties: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().Unix()
	names := make([]string, 0, len(props))
	for _, p := range props {
		token := p.ExportToken
		if token == "" {
			if token, err = NewExportToken(); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(propertyUpsertSQL),
			p.Name, p.DisplayName, p.Group, p.CleaningCost, token, now, now,
		); err != nil {
			return fmt.Errorf("sync property %q: %w", p.Name, err)
		}
		names = append(names, p.Name)
	}

	if len(names) == 0 {
		_, err = tx.ExecContext(ctx, "DELETE FROM properties")
	} else {
		var (
			q    string
			args []any
		)
		q, args, err = sqlx.In("DELETE FROM properties WHERE name NOT IN (?)", names)
		if err == nil {
			_, err = tx.ExecContext(ctx, tx.Rebind(q), args...)
		}
	}
	if err != nil {
		return fmt.Errorf("sync properties: prune: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) ListProperties(ctx context.Context) ([]model.Property, error) {
	var props []model.Property
	if err := s.db.SelectContext(ctx, &props, "SELECT "+propertyColumns+" FROM properties ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	return props, nil
}

func (s *SQLStore) PropertyByName(ctx context.Context, name string) (model.Property, error) {
	return s.getProperty(ctx, "name", name)
}

func (s *SQLStore) PropertyByToken(ctx context.Context, token string) (model.Property, error) {
	if token == "" {
		return model.Property{}, ErrNotFound
	}
	return s.getProperty(ctx, "export_token", token)
}

func (s *SQLStore) getProperty(ctx context.Context, column, value string) (model.Property, error) {
	var p model.Property
	q := s.db.Rebind("SELECT " + propertyColumns + " FROM properties WHERE " + column + " = ?")
	err := s.db.GetContext(ctx, &p, q, value)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Property{}, ErrNotFound
	}
	if err != nil {
		return model.Property{}, fmt.Errorf("get property: %w", err)
	}
	return p, nil
}

// SetExportToken replaces a property's token; the previous one stops
// resolving immediately.
func (s *SQLStore) SetExportToken(ctx context.Context, name, token string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE properties SET export_token = ?, updated_at = ? WHERE name = ?"),
		token, s.now().Unix(), name,
	)
	if err != nil {
		return fmt.Errorf("set export token for %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
