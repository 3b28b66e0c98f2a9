package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_wallpapers",
		SQL: `
			CREATE TABLE IF NOT EXISTS wallpapers (
				seq            BIGSERIAL,
				id             VARCHAR(36) PRIMARY KEY,
				title          TEXT        NOT NULL,
				category       TEXT        NOT NULL,
				device_type    VARCHAR(16) NOT NULL DEFAULT 'mobile',
				filename       TEXT        NOT NULL UNIQUE,
				asset_location TEXT        NOT NULL DEFAULT '',
				upload_date    TIMESTAMPTZ,
				download_count INTEGER     NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_wallpapers_device ON wallpapers(device_type);
			CREATE INDEX IF NOT EXISTS idx_wallpapers_category ON wallpapers(LOWER(category));
		`,
	},
	{
		Version: "000002_create_downloads",
		SQL: `
			CREATE TABLE IF NOT EXISTS downloads (
				id            BIGSERIAL   PRIMARY KEY,
				wallpaper_id  VARCHAR(36) NOT NULL
				              REFERENCES wallpapers(id) ON DELETE CASCADE,
				downloaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				source_addr   TEXT        NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_downloads_wallpaper ON downloads(wallpaper_id);
			CREATE INDEX IF NOT EXISTS idx_downloads_time ON downloads(downloaded_at);
		`,
	},
}

// wallpaperColumns is the scan order shared by every record query.
const wallpaperColumns = `id, title, category, device_type, filename,
	asset_location, upload_date, download_count`

// recordFilterFor builds the SQL mirror of the matches helper for a
// table alias; the three placeholders are the normalized device,
// category and search values, empty meaning "no restriction".
func recordFilterFor(alias string) string {
	return fmt.Sprintf(`($1 = '' OR COALESCE(NULLIF(%[1]sdevice_type, ''), 'mobile') = $1)
	AND ($2 = '' OR LOWER(%[1]scategory) = LOWER($2))
	AND ($3 = '' OR %[1]stitle ILIKE '%%' || $3 || '%%' OR %[1]scategory ILIKE '%%' || $3 || '%%')`, alias)
}

var recordFilter = recordFilterFor("")

// PostgresStore keeps metadata in two tables reached over the network.
//
// Read operations degrade to empty results when the database is
// unreachable so browsing stays up; mutations surface the failure
// wrapped in ErrBackendUnavailable.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies the connection and applies
// pending migrations.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("connected to metadata database")
	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}

		slog.Info("applied migration", "version", m.Version)
	}

	return nil
}

// sqlFilter normalizes a Filter into the three recordFilter arguments.
func sqlFilter(f Filter) (device, category, search string) {
	if ValidDevice(f.Device) {
		device = f.Device
	}
	if f.Category != "" && f.Category != "all" {
		category = f.Category
	}
	return device, category, f.Search
}

// softFail implements the read policy: log and pretend the result set
// is empty rather than failing the page.
func softFail(op string, err error) {
	slog.Error("metadata read degraded to empty result", "op", op, "error", err)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func (s *PostgresStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]Wallpaper, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		softFail(op, err)
		return nil, nil
	}
	defer rows.Close()

	var out []Wallpaper
	for rows.Next() {
		w, err := scanWallpaper(rows)
		if err != nil {
			softFail(op, err)
			return nil, nil
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		softFail(op, err)
		return nil, nil
	}
	return out, nil
}

func scanWallpaper(row pgx.Row) (*Wallpaper, error) {
	var w Wallpaper
	var uploaded *time.Time
	if err := row.Scan(&w.ID, &w.Title, &w.Category, &w.DeviceType,
		&w.Filename, &w.AssetLocation, &uploaded, &w.DownloadCount); err != nil {
		return nil, err
	}
	if uploaded != nil {
		w.UploadDate = FormatTimestamp(*uploaded)
	}
	return &w, nil
}

// List returns matching wallpapers in insertion order.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Wallpaper, error) {
	device, category, search := sqlFilter(f)
	return s.queryRecords(ctx, "list", `
		SELECT `+wallpaperColumns+`
		FROM wallpapers
		WHERE `+recordFilter+`
		ORDER BY seq
	`, device, category, search)
}

// Latest returns the n most recently uploaded matches, newest first.
// NULLS LAST keeps undated records at the bottom.
func (s *PostgresStore) Latest(ctx context.Context, f Filter, n int) ([]Wallpaper, error) {
	device, category, search := sqlFilter(f)
	return s.queryRecords(ctx, "latest", `
		SELECT `+wallpaperColumns+`
		FROM wallpapers
		WHERE `+recordFilter+`
		ORDER BY upload_date DESC NULLS LAST, seq
		LIMIT $4
	`, device, category, search, n)
}

// MostPopular returns the n most downloaded matches; the seq tiebreak
// reproduces the stable in-memory sort of the JSON backend.
func (s *PostgresStore) MostPopular(ctx context.Context, f Filter, n int) ([]Wallpaper, error) {
	device, category, search := sqlFilter(f)
	return s.queryRecords(ctx, "most_popular", `
		SELECT `+wallpaperColumns+`
		FROM wallpapers
		WHERE `+recordFilter+`
		ORDER BY download_count DESC, seq
		LIMIT $4
	`, device, category, search, n)
}

// GetByFilename looks a record up by its stored asset name. An
// unreachable backend reads as an empty result, so callers see
// ErrNotFound either way.
func (s *PostgresStore) GetByFilename(ctx context.Context, filename string) (*Wallpaper, error) {
	w, err := scanWallpaper(s.pool.QueryRow(ctx, `
		SELECT `+wallpaperColumns+`
		FROM wallpapers
		WHERE filename = $1
	`, filename))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			softFail("get_by_filename", err)
		}
		return nil, ErrNotFound
	}
	return w, nil
}

// Categories returns the sorted distinct categories of matching records.
func (s *PostgresStore) Categories(ctx context.Context, f Filter) ([]string, error) {
	device, category, search := sqlFilter(f)
	rows, err := s.pool.Query(ctx, `
		SELECT MIN(category)
		FROM wallpapers
		WHERE category <> '' AND `+recordFilter+`
		GROUP BY LOWER(category)
		ORDER BY MIN(category)
	`, device, category, search)
	if err != nil {
		softFail("categories", err)
		return nil, nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			softFail("categories", err)
			return nil, nil
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		softFail("categories", err)
		return nil, nil
	}
	return out, nil
}

// Insert persists a new record, assigning a fresh id when none is set.
func (s *PostgresStore) Insert(ctx context.Context, w *Wallpaper) (*Wallpaper, error) {
	stored := *w
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.UploadDate == "" {
		stored.UploadDate = FormatTimestamp(time.Now())
	}
	uploaded, _ := ParseTimestamp(stored.UploadDate)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallpapers (
			id, title, category, device_type, filename,
			asset_location, upload_date, download_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		stored.ID,
		stored.Title,
		stored.Category,
		stored.Device(),
		stored.Filename,
		stored.AssetLocation,
		uploaded,
		stored.DownloadCount,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, unavailable(err)
	}
	return &stored, nil
}

// RecordDownload increments the counter and appends the event in one
// transaction, using the database's atomic increment.
func (s *PostgresStore) RecordDownload(ctx context.Context, wallpaperID, sourceAddr string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE wallpapers SET download_count = download_count + 1 WHERE id = $1",
		wallpaperID)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO downloads (wallpaper_id, downloaded_at, source_addr)
		VALUES ($1, NOW(), $2)
	`, wallpaperID, sourceAddr)
	if err != nil {
		return unavailable(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Delete removes the record and its events, returning the removed
// record. The FK already cascades, but the explicit event delete keeps
// behavior identical on databases restored without the constraint.
func (s *PostgresStore) Delete(ctx context.Context, id string) (*Wallpaper, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	defer tx.Rollback(ctx)

	removed, err := scanWallpaper(tx.QueryRow(ctx, `
		SELECT `+wallpaperColumns+`
		FROM wallpapers
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM downloads WHERE wallpaper_id = $1", id); err != nil {
		return nil, unavailable(err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM wallpapers WHERE id = $1", id); err != nil {
		return nil, unavailable(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable(err)
	}
	return removed, nil
}

// Activity merges upload and download events into one feed, newest
// first. The join drops dangling events by construction.
func (s *PostgresStore) Activity(ctx context.Context, kind ActivityKind, f Filter, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	device, category, search := sqlFilter(f)

	downloads := `
		SELECT 'download' AS type, w.title, w.filename, d.downloaded_at AS at
		FROM downloads d
		JOIN wallpapers w ON w.id = d.wallpaper_id
		WHERE ` + recordFilterFor("w.")
	uploads := `
		SELECT 'upload' AS type, title, filename, upload_date AS at
		FROM wallpapers
		WHERE upload_date IS NOT NULL AND ` + recordFilter

	var query string
	switch kind {
	case ActivityDownloads:
		query = downloads
	case ActivityUploads:
		query = uploads
	default:
		query = downloads + " UNION ALL " + uploads
	}
	query += " ORDER BY at DESC LIMIT $4"

	rows, err := s.pool.Query(ctx, query, device, category, search, limit)
	if err != nil {
		softFail("activity", err)
		return nil, nil
	}
	defer rows.Close()

	var feed []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var at time.Time
		if err := rows.Scan(&e.Type, &e.Title, &e.Filename, &at); err != nil {
			softFail("activity", err)
			return nil, nil
		}
		e.Date = FormatTimestamp(at)
		feed = append(feed, e)
	}
	if err := rows.Err(); err != nil {
		softFail("activity", err)
		return nil, nil
	}
	return feed, nil
}

// Stats aggregates analytics over the filtered record set.
func (s *PostgresStore) Stats(ctx context.Context, f Filter) (*Stats, error) {
	device, category, search := sqlFilter(f)
	stats := &Stats{}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM wallpapers
		WHERE `+recordFilter+`
	`, device, category, search).Scan(&stats.TotalWallpapers)
	if err != nil {
		softFail("stats", err)
		return &Stats{}, nil
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE d.downloaded_at >= NOW() - INTERVAL '24 hours')
		FROM downloads d
		JOIN wallpapers w ON w.id = d.wallpaper_id
		WHERE `+recordFilterFor("w."),
		device, category, search,
	).Scan(&stats.TotalDownloads, &stats.Downloads24h)
	if err != nil {
		softFail("stats", err)
		return &Stats{}, nil
	}

	// Ties break on the earliest download event, the first-encountered
	// order the JSON backend produces.
	rows, err := s.pool.Query(ctx, `
		SELECT w.category, COUNT(*)
		FROM downloads d
		JOIN wallpapers w ON w.id = d.wallpaper_id
		WHERE `+recordFilterFor("w.")+`
		GROUP BY w.category
		ORDER BY COUNT(*) DESC, MIN(d.id)
		LIMIT 5
	`, device, category, search)
	if err != nil {
		softFail("stats", err)
		return &Stats{}, nil
	}
	defer rows.Close()

	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Downloads); err != nil {
			softFail("stats", err)
			return &Stats{}, nil
		}
		stats.PopularCategories = append(stats.PopularCategories, cc)
	}
	if err := rows.Err(); err != nil {
		softFail("stats", err)
		return &Stats{}, nil
	}
	return stats, nil
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
