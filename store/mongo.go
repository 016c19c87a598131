package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"poi-server/models"
)

type poiDocument struct {
	ID          string          `bson:"_id"`
	Name        string          `bson:"name"`
	Category    string          `bson:"category"`
	Location    models.GeoPoint `bson:"location"`
	Lon         float64         `bson:"lon"`
	Lat         float64         `bson:"lat"`
	UpdatedAt   time.Time       `bson:"updated_at_utc"`
	DataVersion string          `bson:"data_version"`
}

type versionDocument struct {
	Version    string     `bson:"_id"`
	Source     string     `bson:"source"`
	PulledAt   *time.Time `bson:"pulled_at_utc"`
	Transforms string     `bson:"transforms_json"`
}

// Mongo stores points in a 2dsphere-indexed collection. Ingest transactions need a replica set.
type Mongo struct {
	client   *mongo.Client
	pois     *mongo.Collection
	versions *mongo.Collection
	meta     *mongo.Collection
}

func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongodb")
	}
	sigolo.Infof("Connected to MongoDB database %s", database)

	db := client.Database(database)
	return &Mongo{
		client:   client,
		pois:     db.Collection("pois"),
		versions: db.Collection("dataset_versions"),
		meta:     db.Collection("dataset_meta"),
	}, nil
}

func (m *Mongo) EnsureSchema(ctx context.Context) error {
	_, err := m.pois.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "data_version", Value: 1}, {Key: "lon", Value: 1}, {Key: "lat", Value: 1}}},
		{Keys: bson.D{{Key: "data_version", Value: 1}, {Key: "updated_at_utc", Value: -1}}},
	})
	if err != nil {
		return errors.Wrap(err, "create poi indexes")
	}

	_, err = m.meta.UpdateOne(ctx,
		bson.M{"_id": models.DatasetMetaID},
		bson.M{"$setOnInsert": bson.M{"active_version": ""}},
		options.Update().SetUpsert(true),
	)
	return errors.Wrap(err, "seed dataset meta")
}

func (m *Mongo) ActiveVersion(ctx context.Context) (string, error) {
	return m.activeVersion(ctx)
}

func (m *Mongo) activeVersion(ctx context.Context) (string, error) {
	var doc models.DatasetMeta
	err := m.meta.FindOne(ctx, bson.M{"_id": models.DatasetMetaID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "read active version")
	}
	return doc.ActiveVersion, nil
}

func (m *Mongo) GetVersion(ctx context.Context, version string) (*models.DatasetVersion, error) {
	var doc versionDocument
	err := m.versions.FindOne(ctx, bson.M{"_id": version}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(ErrNotFound, "dataset version %q", version)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset version %q", version)
	}

	v := &models.DatasetVersion{
		Version:    doc.Version,
		Source:     doc.Source,
		Transforms: []byte(transformsOrEmpty([]byte(doc.Transforms))),
	}
	if doc.PulledAt != nil {
		t := doc.PulledAt.UTC()
		v.PulledAt = &t
	}
	return v, nil
}

func (m *Mongo) QueryFeatures(ctx context.Context, q FeatureQuery) ([]models.Feature, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at_utc", Value: -1}}).
		SetLimit(int64(q.Limit))
	cursor, err := m.pois.Find(ctx, featureFilter(q), opts)
	if err != nil {
		return nil, errors.Wrapf(err, "%s query", q.Mode())
	}
	defer cursor.Close(ctx)

	var docs []poiDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "%s query decode", q.Mode())
	}

	features := make([]models.Feature, 0, len(docs))
	for _, doc := range docs {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "poi id %q", doc.ID)
		}
		features = append(features, models.Feature{
			ID:        id,
			Name:      doc.Name,
			Category:  doc.Category,
			Lat:       doc.Location.Lat(),
			Lon:       doc.Location.Lon(),
			UpdatedAt: doc.UpdatedAt.UTC(),
		})
	}
	return features, nil
}

// featureFilter builds the find filter. Boxes are planar, edge-inclusive ranges over the plain
// lon/lat fields; a GeoJSON box would get geodesic edges and mongod rejects zero-area or
// whole-world loops. Regions use $geoWithin.
func featureFilter(q FeatureQuery) bson.M {
	filter := bson.M{"data_version": q.Version}
	switch q.Mode() {
	case ModeBBox:
		filter["lon"] = bson.M{"$gte": q.Bound.Min[0], "$lte": q.Bound.Max[0]}
		filter["lat"] = bson.M{"$gte": q.Bound.Min[1], "$lte": q.Bound.Max[1]}
	case ModePolygon:
		filter["location"] = bson.M{"$geoWithin": bson.M{"$geometry": geometryDocument(q.Region.Geometry)}}
	}
	if q.Category != "" {
		filter["category"] = q.Category
	}
	return filter
}

func geometryDocument(g orb.Geometry) bson.M {
	switch g := g.(type) {
	case orb.Polygon:
		return bson.M{"type": "Polygon", "coordinates": polygonCoordinates(g)}
	case orb.MultiPolygon:
		coords := make([][][][]float64, 0, len(g))
		for _, polygon := range g {
			coords = append(coords, polygonCoordinates(polygon))
		}
		return bson.M{"type": "MultiPolygon", "coordinates": coords}
	default:
		return bson.M{"type": g.GeoJSONType()}
	}
}

func polygonCoordinates(polygon orb.Polygon) [][][]float64 {
	rings := make([][][]float64, 0, len(polygon))
	for _, ring := range polygon {
		positions := make([][]float64, 0, len(ring))
		for _, p := range ring {
			positions = append(positions, []float64{p[0], p[1]})
		}
		rings = append(rings, positions)
	}
	return rings
}

func (m *Mongo) BeginIngest(ctx context.Context) (IngestTx, error) {
	session, err := m.client.StartSession()
	if err != nil {
		return nil, errors.Wrap(err, "start mongodb session")
	}
	if err := session.StartTransaction(); err != nil {
		session.EndSession(ctx)
		return nil, errors.Wrap(err, "start mongodb transaction")
	}
	return &mongoIngestTx{
		store:   m,
		session: session,
		ctx:     mongo.NewSessionContext(ctx, session),
	}, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) Close() error {
	return m.client.Disconnect(context.Background())
}

// mongoIngestTx runs every write in the session context it was started with. A concurrent load
// touching the meta document aborts with a write conflict.
type mongoIngestTx struct {
	store   *Mongo
	session mongo.Session
	ctx     mongo.SessionContext
	done    bool
}

func (t *mongoIngestTx) ActiveVersion(ctx context.Context) (string, error) {
	return t.store.activeVersion(t.ctx)
}

func (t *mongoIngestTx) DeleteVersionPOIs(ctx context.Context, version string) (int64, error) {
	res, err := t.store.pois.DeleteMany(t.ctx, bson.M{"data_version": version})
	if err != nil {
		return 0, errors.Wrapf(err, "delete points of version %q", version)
	}
	return res.DeletedCount, nil
}

func (t *mongoIngestTx) InsertPOI(ctx context.Context, poi models.PointOfInterest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := poi.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := t.store.pois.InsertOne(t.ctx, poiDocument{
		ID:          id.String(),
		Name:        poi.Name,
		Category:    poi.Category,
		Location:    poi.Location,
		Lon:         poi.Location.Lon(),
		Lat:         poi.Location.Lat(),
		UpdatedAt:   poi.UpdatedAt.UTC(),
		DataVersion: poi.DataVersion,
	})
	return errors.Wrapf(err, "insert point %q", poi.Name)
}

func (t *mongoIngestTx) UpsertVersion(ctx context.Context, v models.DatasetVersion) error {
	set := bson.M{
		"source":          v.Source,
		"pulled_at_utc":   v.PulledAt,
		"transforms_json": transformsOrEmpty(v.Transforms),
	}
	_, err := t.store.versions.UpdateOne(t.ctx, bson.M{"_id": v.Version}, bson.M{"$set": set}, options.Update().SetUpsert(true))
	return errors.Wrapf(err, "upsert dataset version %q", v.Version)
}

func (t *mongoIngestTx) SetActiveVersion(ctx context.Context, version string) error {
	_, err := t.store.meta.UpdateOne(t.ctx,
		bson.M{"_id": models.DatasetMetaID},
		bson.M{"$set": bson.M{"active_version": version}},
		options.Update().SetUpsert(true),
	)
	return errors.Wrapf(err, "activate dataset version %q", version)
}

func (t *mongoIngestTx) Commit() error {
	if t.done {
		return errors.New("ingest transaction already finished")
	}
	t.done = true
	defer t.session.EndSession(context.Background())
	return errors.Wrap(t.session.CommitTransaction(t.ctx), "commit mongodb transaction")
}

func (t *mongoIngestTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.session.EndSession(context.Background())
	return errors.Wrap(t.session.AbortTransaction(context.Background()), "abort mongodb transaction")
}
