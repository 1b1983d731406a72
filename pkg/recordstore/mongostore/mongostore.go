// Package mongostore implements recordstore.Store on top of MongoDB. It
// works with the "files" and "archives" collections shared with the
// metadata filler and the bfid writer, and can be used by any number of
// cooperating packer processes.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore/internal/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	filesCollection    = "files"
	archivesCollection = "archives"

	// DefaultDatabase is the database name used by default.
	DefaultDatabase = "smallfiles"
)

// Store is a MongoDB-backed recordstore.Store.
type Store struct {
	uri      string
	database string
	timeout  time.Duration
	log      *zap.Logger

	client   *mongo.Client
	files    *mongo.Collection
	archives *mongo.Collection
}

// Option is a Store constructor option.
type Option func(*Store)

// WithDatabase sets database name.
func WithDatabase(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.database = name
		}
	}
}

// WithTimeout sets connection and server selection timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New returns new Store for the MongoDB deployment at uri, e.g.
// "mongodb://localhost/". Connection is established by Open.
func New(uri string, opts ...Option) *Store {
	s := &Store{
		uri:      uri,
		database: DefaultDatabase,
		timeout:  10 * time.Second,
		log:      zap.NewNop(),
	}

	for i := range opts {
		opts[i](s)
	}

	return s
}

// Open implements recordstore.Store.
func (s *Store) Open(ctx context.Context) error {
	opts := options.Client().
		ApplyURI(s.uri).
		SetConnectTimeout(s.timeout).
		SetServerSelectionTimeout(s.timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", s.uri, err)
	}

	err = client.Ping(ctx, readpref.Primary())
	if err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("ping %s: %w", s.uri, err)
	}

	s.client = client
	db := client.Database(s.database)
	s.files = db.Collection(filesCollection)
	s.archives = db.Collection(archivesCollection)

	s.log.Debug("connected to MongoDB record store",
		zap.String("uri", s.uri), zap.String("database", s.database))

	return nil
}

// Init implements recordstore.Store. It creates the indexes used by the
// packer queries. Existing collections may hold duplicates written by
// older tools, so none of the indexes is unique.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.files.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pnfsid", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "ctime", Value: 1}}},
		{Keys: bson.D{{Key: "lock", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes of %s collection: %w", filesCollection, err)
	}
	return nil
}

// Close implements recordstore.Store.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	return s.client.Disconnect(ctx)
}

func selectQuery(f recordstore.Filter) bson.M {
	q := bson.M{"state": recordstore.New().String()}

	if f.CTimeBefore != 0 {
		q["ctime"] = bson.M{"$lt": float64(f.CTimeBefore)}
	}

	for key, pattern := range map[string]string{
		"path":  f.PathPattern,
		"group": f.GroupPattern,
		"store": f.StorePattern,
	} {
		if pattern != "" {
			q[key] = primitive.Regex{Pattern: pattern}
		}
	}

	return q
}

// Select implements recordstore.Store. Path, group and store patterns are
// evaluated by the server; file name pattern is applied to the cursor
// results.
func (s *Store) Select(ctx context.Context, f recordstore.Filter, fn func(recordstore.FileRecord) error) error {
	m, err := f.Compile()
	if err != nil {
		return fmt.Errorf("compile filter: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "ctime", Value: 1}}).
		SetNoCursorTimeout(true)

	cur, err := s.files.Find(ctx, selectQuery(f), opts)
	if err != nil {
		return fmt.Errorf("create cursor: %w", err)
	}
	defer func() { _ = cur.Close(context.Background()) }()

	for cur.Next(ctx) {
		var d document.File
		if err := cur.Decode(&d); err != nil {
			s.log.Warn("skip broken file record", zap.Error(err))
			continue
		}

		rec := d.FileRecord()
		if !m.MatchFile(rec) {
			continue
		}

		if err := fn(rec); err != nil {
			return err
		}
	}

	return cur.Err()
}

func lockUpdate(st recordstore.State, lock string) bson.M {
	if lock == "" {
		return bson.M{
			"$set":   bson.M{"state": st.String()},
			"$unset": bson.M{"lock": ""},
		}
	}
	return bson.M{"$set": bson.M{"state": st.String(), "lock": lock}}
}

// SetState implements recordstore.Store.
func (s *Store) SetState(ctx context.Context, id string, st recordstore.State, lock string) error {
	res, err := s.files.UpdateOne(ctx, bson.M{"pnfsid": id}, lockUpdate(st, lock))
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return recordstore.ErrNotFound
	}
	return nil
}

// Transition implements recordstore.Store.
func (s *Store) Transition(ctx context.Context, from, to recordstore.State) (int, error) {
	res, err := s.files.UpdateMany(ctx, bson.M{"state": from.String()}, lockUpdate(to, ""))
	if err != nil {
		return 0, fmt.Errorf("update records in state %q: %w", from, err)
	}
	return int(res.ModifiedCount), nil
}

// ResetLocks implements recordstore.Store.
func (s *Store) ResetLocks(ctx context.Context, lock string) (int, error) {
	if lock == "" {
		return 0, errors.New("empty lock")
	}

	res, err := s.files.UpdateMany(ctx, bson.M{"lock": lock}, lockUpdate(recordstore.New(), ""))
	if err != nil {
		return 0, fmt.Errorf("reset records locked by %q: %w", lock, err)
	}
	return int(res.ModifiedCount), nil
}

// Delete implements recordstore.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.files.DeleteOne(ctx, bson.M{"pnfsid": id})
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return recordstore.ErrNotFound
	}
	return nil
}

// PutArchive implements recordstore.Store.
func (s *Store) PutArchive(ctx context.Context, a recordstore.ArchiveRecord) error {
	_, err := s.archives.InsertOne(ctx, document.FromArchiveRecord(a))
	if err != nil {
		return fmt.Errorf("insert archive record %s: %w", a.ID, err)
	}
	return nil
}

// Put implements recordstore.Store.
func (s *Store) Put(ctx context.Context, rec recordstore.FileRecord) error {
	_, err := s.files.ReplaceOne(ctx, bson.M{"pnfsid": rec.ID}, document.FromFileRecord(rec),
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements recordstore.Store.
func (s *Store) Get(ctx context.Context, id string) (recordstore.FileRecord, error) {
	var d document.File

	err := s.files.FindOne(ctx, bson.M{"pnfsid": id}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return recordstore.FileRecord{}, recordstore.ErrNotFound
		}
		return recordstore.FileRecord{}, fmt.Errorf("find record %s: %w", id, err)
	}

	return d.FileRecord(), nil
}

// IterateArchives implements recordstore.Store.
func (s *Store) IterateArchives(ctx context.Context, fn func(recordstore.ArchiveRecord) error) error {
	cur, err := s.archives.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("create cursor: %w", err)
	}
	defer func() { _ = cur.Close(context.Background()) }()

	for cur.Next(ctx) {
		var d document.Archive
		if err := cur.Decode(&d); err != nil {
			return fmt.Errorf("decode archive record: %w", err)
		}
		if err := fn(d.ArchiveRecord()); err != nil {
			return err
		}
	}

	return cur.Err()
}
