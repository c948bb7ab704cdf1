package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
)

const (
	mongoBackend   = "mongo"
	mongoInLimit   = 1000
	defaultMongoDB = "bandprint"
)

type MongoOptions struct {
	URI      string
	Database string
}

// Mongo keeps one document per fingerprint with its songs in an array.
// Stores run in a multi-document transaction, which needs a replica set.
type Mongo struct {
	client *mongo.Client
	fps    *mongo.Collection
	songs  *mongo.Collection
}

type fingerprintDoc struct {
	ID    int64    `bson:"_id"`
	Songs []string `bson:"songs"`
}

type songDoc struct {
	ID        string    `bson:"_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func NewMongo(ctx context.Context, opts MongoOptions) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, wrapErr("open", mongoBackend, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, wrapErr("open", mongoBackend, err)
	}

	name := opts.Database
	if name == "" {
		name = defaultMongoDB
	}
	db := client.Database(name)
	return &Mongo{
		client: client,
		fps:    db.Collection("fingerprints"),
		songs:  db.Collection("songs"),
	}, nil
}

func (m *Mongo) Store(ctx context.Context, fps []fingerprint.Fingerprint, songID string) error {
	if songID == "" {
		return ErrEmptySongID
	}
	keys := distinct(fps)
	models := make([]mongo.WriteModel, 0, len(keys))
	for _, fp := range keys {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": int64(fp)}).
			SetUpdate(bson.M{"$addToSet": bson.M{"songs": songID}}).
			SetUpsert(true))
	}

	sess, err := m.client.StartSession()
	if err != nil {
		return wrapErr("store", mongoBackend, err)
	}
	defer sess.EndSession(ctx)

	// WithTransaction retries the callback on transient write conflicts.
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		if len(models) > 0 {
			if _, err := m.fps.BulkWrite(sc, models, options.BulkWrite().SetOrdered(false)); err != nil {
				return nil, err
			}
		}
		_, err := m.songs.UpdateOne(sc,
			bson.M{"_id": songID},
			bson.M{"$setOnInsert": bson.M{"created_at": time.Now().UTC()}},
			options.Update().SetUpsert(true),
		)
		return nil, err
	})
	return wrapErr("store", mongoBackend, err)
}

func (m *Mongo) FindMatches(ctx context.Context, fps []fingerprint.Fingerprint) (Tally, error) {
	keys := distinct(fps)
	sets := make(map[fingerprint.Fingerprint][]string, len(keys))

	for start := 0; start < len(keys); start += mongoInLimit {
		end := min(start+mongoInLimit, len(keys))
		ids := make([]int64, 0, end-start)
		for _, fp := range keys[start:end] {
			ids = append(ids, int64(fp))
		}

		cur, err := m.fps.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return nil, wrapErr("find matches", mongoBackend, err)
		}
		var docs []fingerprintDoc
		if err := cur.All(ctx, &docs); err != nil {
			return nil, wrapErr("find matches", mongoBackend, err)
		}
		for _, d := range docs {
			sets[fingerprint.Fingerprint(d.ID)] = d.Songs
		}
	}
	return tallyFrom(fps, sets), nil
}

func (m *Mongo) Songs(ctx context.Context) ([]string, error) {
	cur, err := m.songs.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, wrapErr("songs", mongoBackend, err)
	}
	var docs []songDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrapErr("songs", mongoBackend, err)
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (m *Mongo) Close() error {
	return wrapErr("close", mongoBackend, m.client.Disconnect(context.Background()))
}

// Drop deletes the whole database.
func (m *Mongo) Drop(ctx context.Context) error {
	return wrapErr("drop", mongoBackend, m.fps.Database().Drop(ctx))
}
