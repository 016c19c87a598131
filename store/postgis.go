package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hauke96/sigolo/v2"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"poi-server/models"
)

// Transaction-scoped advisory lock key serializing dataset loads ("pois").
const ingestLockKey int64 = 0x706f6973

var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS dataset_versions (
		version VARCHAR(32) PRIMARY KEY,
		source VARCHAR(512) NOT NULL,
		pulled_at_utc TIMESTAMPTZ NULL,
		transforms_json JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE TABLE IF NOT EXISTS dataset_meta (
		id INT PRIMARY KEY,
		active_version VARCHAR(32) NOT NULL DEFAULT ''
	)`,
	`INSERT INTO dataset_meta (id, active_version) VALUES (1, '') ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS pois (
		id UUID PRIMARY KEY,
		name VARCHAR(512) NOT NULL,
		category VARCHAR(64) NOT NULL,
		geom GEOMETRY(POINT, 4326) NOT NULL,
		updated_at_utc TIMESTAMPTZ NOT NULL,
		data_version VARCHAR(32) NOT NULL,
		CONSTRAINT fk_pois_version FOREIGN KEY (data_version)
			REFERENCES dataset_versions(version) DEFERRABLE INITIALLY DEFERRED
	)`,
	`CREATE INDEX IF NOT EXISTS ix_pois_geom ON pois USING GIST (geom)`,
	`CREATE INDEX IF NOT EXISTS ix_pois_version_updated ON pois (data_version, updated_at_utc DESC)`,
}

type PostGIS struct {
	db *sql.DB
}

// OpenPostGIS connects with the lib/pq driver and verifies the connection.
func OpenPostGIS(ctx context.Context, dsn string, maxOpen, maxIdle int) (*PostGIS, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return NewPostGIS(db), nil
}

func NewPostGIS(db *sql.DB) *PostGIS {
	return &PostGIS{db: db}
}

func (p *PostGIS) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "schema statement failed: %s", firstLine(stmt))
		}
	}
	sigolo.Debugf("Schema ensured (%d statements)", len(schemaStatements))
	return nil
}

func (p *PostGIS) ActiveVersion(ctx context.Context) (string, error) {
	return activeVersion(ctx, p.db)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func activeVersion(ctx context.Context, q queryRower) (string, error) {
	var version string
	err := q.QueryRowContext(ctx, `SELECT active_version FROM dataset_meta WHERE id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "read active version")
	}
	return version, nil
}

func (p *PostGIS) GetVersion(ctx context.Context, version string) (*models.DatasetVersion, error) {
	var (
		v          models.DatasetVersion
		pulledAt   sql.NullTime
		transforms []byte
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT version, source, pulled_at_utc, transforms_json FROM dataset_versions WHERE version = $1`,
		version,
	).Scan(&v.Version, &v.Source, &pulledAt, &transforms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "dataset version %q", version)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset version %q", version)
	}
	if pulledAt.Valid {
		t := pulledAt.Time.UTC()
		v.PulledAt = &t
	}
	if len(transforms) > 0 {
		v.Transforms = transforms
	}
	return &v, nil
}

func (p *PostGIS) QueryFeatures(ctx context.Context, q FeatureQuery) ([]models.Feature, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	query, args := buildFeatureQuery(q)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s query", q.Mode())
	}
	defer rows.Close()

	features := make([]models.Feature, 0)
	for rows.Next() {
		var f models.Feature
		if err := rows.Scan(&f.ID, &f.Name, &f.Category, &f.Lat, &f.Lon, &f.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan feature")
		}
		f.UpdatedAt = f.UpdatedAt.UTC()
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "%s query rows", q.Mode())
	}
	return features, nil
}

func buildFeatureQuery(q FeatureQuery) (string, []any) {
	var sb strings.Builder
	args := []any{q.Version}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString(`SELECT id, name, category, ST_Y(geom), ST_X(geom), updated_at_utc FROM pois WHERE data_version = $1`)
	switch q.Mode() {
	case ModeBBox:
		b := q.Bound
		fmt.Fprintf(&sb, ` AND ST_Intersects(geom, ST_MakeEnvelope(%s, %s, %s, %s, 4326))`,
			arg(b.Min[0]), arg(b.Min[1]), arg(b.Max[0]), arg(b.Max[1]))
	case ModePolygon:
		fmt.Fprintf(&sb, ` AND ST_Within(geom, ST_GeomFromText(%s, %d))`, arg(q.Region.WKT()), q.Region.SRID)
	}
	if q.Category != "" {
		fmt.Fprintf(&sb, ` AND category = %s`, arg(q.Category))
	}
	fmt.Fprintf(&sb, ` ORDER BY updated_at_utc DESC LIMIT %s`, arg(q.Limit))
	return sb.String(), args
}

func (p *PostGIS) BeginIngest(ctx context.Context) (IngestTx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin ingest transaction")
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ingestLockKey); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, "acquire ingest lock")
	}
	return &pgIngestTx{tx: tx}, nil
}

func (p *PostGIS) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostGIS) Close() error {
	return p.db.Close()
}

type pgIngestTx struct {
	tx *sql.Tx
}

func (t *pgIngestTx) ActiveVersion(ctx context.Context) (string, error) {
	return activeVersion(ctx, t.tx)
}

func (t *pgIngestTx) DeleteVersionPOIs(ctx context.Context, version string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM pois WHERE data_version = $1`, version)
	if err != nil {
		return 0, errors.Wrapf(err, "delete points of version %q", version)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *pgIngestTx) InsertPOI(ctx context.Context, poi models.PointOfInterest) error {
	id := poi.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO pois (id, name, category, geom, updated_at_utc, data_version)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326), $6, $7)`,
		id, poi.Name, poi.Category, poi.Location.Lon(), poi.Location.Lat(), poi.UpdatedAt.UTC(), poi.DataVersion,
	)
	if err != nil {
		return errors.Wrapf(err, "insert point %q", poi.Name)
	}
	return nil
}

func (t *pgIngestTx) UpsertVersion(ctx context.Context, v models.DatasetVersion) error {
	var pulledAt any
	if v.PulledAt != nil {
		pulledAt = v.PulledAt.UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO dataset_versions (version, source, pulled_at_utc, transforms_json)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (version) DO UPDATE SET
			source = EXCLUDED.source,
			pulled_at_utc = EXCLUDED.pulled_at_utc,
			transforms_json = EXCLUDED.transforms_json`,
		v.Version, v.Source, pulledAt, transformsOrEmpty(v.Transforms),
	)
	if err != nil {
		return errors.Wrapf(err, "upsert dataset version %q", v.Version)
	}
	return nil
}

func (t *pgIngestTx) SetActiveVersion(ctx context.Context, version string) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE dataset_meta SET active_version = $1 WHERE id = 1`, version); err != nil {
		return errors.Wrapf(err, "activate dataset version %q", version)
	}
	return nil
}

func (t *pgIngestTx) Commit() error {
	return errors.Wrap(t.tx.Commit(), "commit ingest transaction")
}

func (t *pgIngestTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return errors.Wrap(err, "rollback ingest transaction")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
