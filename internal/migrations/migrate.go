package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	pg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

const (
	DefaultDir     = "migrations"
	metadataTable  = "schema_migrations"
	baselineMarker = "players"
)

var versionPrefix = regexp.MustCompile(`^0*([0-9]+)_`)

// Run applies every pending migration in dir.
// A database that already has the schema but no migrate metadata is
// baselined to the newest migration on disk instead of being re-created.
func Run(databaseURL, dir string, log zerolog.Logger) error {
	if databaseURL == "" {
		return fmt.Errorf("database URL is empty")
	}
	if dir == "" {
		dir = DefaultDir
	}

	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer sqlDB.Close()

	driver, err := pg.WithInstance(sqlDB, &pg.Config{MigrationsTable: metadataTable})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if needsBaseline(sqlDB) {
		if latest := latestVersion(dir); latest > 0 {
			log.Warn().Int64("version", latest).Msg("existing schema without migrate metadata, baselining")
			if err := m.Force(int(latest)); err != nil {
				return fmt.Errorf("baseline to %d: %w", latest, err)
			}
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}

func needsBaseline(db *sql.DB) bool {
	var schemaExists, metaExists bool
	const q = "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)"
	if err := db.QueryRow(q, baselineMarker).Scan(&schemaExists); err != nil || !schemaExists {
		return false
	}
	if err := db.QueryRow(q, metadataTable).Scan(&metaExists); err != nil {
		return false
	}
	return !metaExists
}

// latestVersion returns the highest NNNNNN_ prefix among the files in dir.
func latestVersion(dir string) int64 {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	var max int64
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := versionPrefix.FindStringSubmatch(f.Name())
		if len(m) < 2 {
			continue
		}
		v, _ := strconv.ParseInt(m[1], 10, 64)
		if v > max {
			max = v
		}
	}
	return max
}
