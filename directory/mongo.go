package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Mongo defaults.
const (
	DefaultMongoDatabase   = "mailroom"
	DefaultMongoCollection = "users"
	DefaultMongoTimeout    = 10 * time.Second
)

// Compile-time check
var _ Directory = (*Mongo)(nil)

// Mongo is a Directory backed by a MongoDB collection.
type Mongo struct {
	collection *mongo.Collection
	timeout    time.Duration
}

type mongoOptions struct {
	database   string
	collection string
	timeout    time.Duration
}

// MongoOption configures a Mongo directory.
type MongoOption func(*mongoOptions)

// WithMongoDatabase sets the database name.
func WithMongoDatabase(name string) MongoOption {
	return func(o *mongoOptions) {
		if name != "" {
			o.database = name
		}
	}
}

// WithMongoCollection sets the collection name.
func WithMongoCollection(name string) MongoOption {
	return func(o *mongoOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithMongoTimeout sets the per-operation timeout.
func WithMongoTimeout(d time.Duration) MongoOption {
	return func(o *mongoOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// userDoc is the stored form of a User.
type userDoc struct {
	ID           bson.ObjectID `bson:"_id"`
	Name         string        `bson:"name"`
	Username     string        `bson:"username,omitempty"`
	Email        string        `bson:"email"`
	PasswordHash string        `bson:"password"`
	CreatedAt    time.Time     `bson:"created_at"`
}

func (d *userDoc) toUser() *User {
	return &User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
	}
}

// NewMongo returns a directory on the given client and creates its unique
// indexes. Usernames are optional, so their index is sparse.
func NewMongo(ctx context.Context, client *mongo.Client, opts ...MongoOption) (*Mongo, error) {
	if client == nil {
		return nil, fmt.Errorf("directory: mongo client is required")
	}
	o := &mongoOptions{
		database:   DefaultMongoDatabase,
		collection: DefaultMongoCollection,
		timeout:    DefaultMongoTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	m := &Mongo{
		collection: client.Database(o.database).Collection(o.collection),
		timeout:    o.timeout,
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("directory: ensure indexes: %w", err)
	}
	return m, nil
}

func (m *Mongo) Create(ctx context.Context, u *User) (*User, error) {
	c, err := normalize(u)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	doc := userDoc{
		ID:           bson.NewObjectID(),
		Name:         c.Name,
		Username:     c.Username,
		Email:        c.Email,
		PasswordHash: c.PasswordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("directory: insert user: %w", err)
	}
	return doc.toUser(), nil
}

func (m *Mongo) ByID(ctx context.Context, id string) (*User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return m.findOne(ctx, bson.M{"_id": oid})
}

func (m *Mongo) ByIDs(ctx context.Context, ids []string) (map[string]*User, error) {
	ids = uniqueIDs(ids)
	out := make(map[string]*User, len(ids))
	oids := make(bson.A, 0, len(ids))
	for _, id := range ids {
		if oid, err := bson.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cur, err := m.collection.Find(ctx, bson.M{"_id": bson.M{"$in": oids}},
		options.Find().SetProjection(bson.M{"password": 0}))
	if err != nil {
		return nil, fmt.Errorf("directory: find users: %w", err)
	}
	defer cur.Close(ctx)

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("directory: decode users: %w", err)
	}
	for i := range docs {
		u := docs[i].toUser()
		out[u.ID] = u
	}
	return out, nil
}

func (m *Mongo) ByIdentifier(ctx context.Context, identifier string) (*User, error) {
	if identifier == "" {
		return nil, ErrUserNotFound
	}
	return m.findOne(ctx, bson.M{"$or": bson.A{
		bson.M{"email": identifier},
		bson.M{"username": identifier},
	}})
}

func (m *Mongo) findOne(ctx context.Context, filter bson.M) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var doc userDoc
	if err := m.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("directory: find user: %w", err)
	}
	return doc.toUser(), nil
}

func (m *Mongo) Search(ctx context.Context, q string, limit int) ([]*User, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []*User{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	re := bson.Regex{Pattern: regexp.QuoteMeta(q), Options: "i"}
	filter := bson.M{"$or": bson.A{
		bson.M{"email": re},
		bson.M{"username": re},
	}}
	findOpts := options.Find().
		SetLimit(int64(searchLimit(limit))).
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetProjection(bson.M{"password": 0})

	cur, err := m.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("directory: search users: %w", err)
	}
	defer cur.Close(ctx)

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("directory: decode users: %w", err)
	}
	out := make([]*User, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toUser())
	}
	return out, nil
}
