package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-core/internal/domain"
	"github.com/fjod/go_cart/cart-core/internal/money"
	"github.com/fjod/go_cart/cart-core/internal/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ store.Store = (*MongoStore)(nil)

type cartDocument struct {
	ID        string         `bson:"_id"`
	OwnerID   string         `bson:"owner_id"`
	Version   int64          `bson:"version"`
	Items     []itemDocument `bson:"items"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

type itemDocument struct {
	ProductID  string    `bson:"product_id"`
	VariantKey string    `bson:"variant_key"`
	UnitPrice  int64     `bson:"unit_price"` // minor units
	Quantity   int       `bson:"quantity"`
	AddedAt    time.Time `bson:"added_at"`
}

func toDocument(cart *domain.Cart) cartDocument {
	snap := cart.Snapshot()
	items := make([]itemDocument, 0, len(snap.Items))
	for _, it := range snap.Items {
		items = append(items, itemDocument{
			ProductID:  it.ProductID,
			VariantKey: it.VariantKey,
			UnitPrice:  it.UnitPrice.Minor(),
			Quantity:   it.Quantity,
			AddedAt:    it.AddedAt,
		})
	}
	return cartDocument{
		ID:        snap.ID,
		OwnerID:   snap.OwnerID,
		Version:   snap.Version,
		Items:     items,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
}

func (d cartDocument) toCart() (*domain.Cart, error) {
	items := make([]domain.ItemSnapshot, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, domain.ItemSnapshot{
			ProductID:  it.ProductID,
			VariantKey: it.VariantKey,
			UnitPrice:  money.FromMinor(it.UnitPrice),
			Quantity:   it.Quantity,
			AddedAt:    it.AddedAt,
		})
	}
	return domain.FromSnapshot(domain.Snapshot{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Version:   d.Version,
		Items:     items,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	})
}

// MongoStore keeps one document per owner in the "carts" collection.
type MongoStore struct {
	collection *mongo.Collection
	idleTTL    time.Duration
}

func NewMongoStore(db *mongo.Database, idleTTL time.Duration) *MongoStore {
	if idleTTL <= 0 {
		idleTTL = store.DefaultIdleTTL
	}
	return &MongoStore{
		collection: db.Collection("carts"),
		idleTTL:    idleTTL,
	}
}

func (m *MongoStore) Load(ctx context.Context, ownerID string) (*domain.Cart, error) {
	var doc cartDocument

	filter := bson.M{"owner_id": ownerID}
	err := m.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.NewCart(ownerID), nil
		}
		return nil, store.NewStorageError("load", ownerID, fmt.Errorf("failed to get cart: %w", err))
	}

	cart, err := doc.toCart()
	if err != nil {
		return nil, store.NewStorageError("load", ownerID, fmt.Errorf("failed to decode cart: %w", err))
	}
	return cart, nil
}

// Save inserts the first version of a cart and otherwise replaces the
// document only if its version still matches.
func (m *MongoStore) Save(ctx context.Context, cart *domain.Cart) error {
	doc := toDocument(cart)
	doc.Version = cart.Version + 1
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}

	if cart.Version == 0 {
		_, err := m.collection.InsertOne(ctx, doc)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return store.ErrVersionConflict
			}
			return store.NewStorageError("save", cart.OwnerID, fmt.Errorf("failed to create cart: %w", err))
		}
	} else {
		filter := bson.M{"owner_id": cart.OwnerID, "version": cart.Version}
		update := bson.M{"$set": bson.M{
			"version":    doc.Version,
			"items":      doc.Items,
			"updated_at": doc.UpdatedAt,
		}}
		result, err := m.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return store.NewStorageError("save", cart.OwnerID, fmt.Errorf("failed to update cart: %w", err))
		}
		if result.MatchedCount == 0 {
			return store.ErrVersionConflict
		}
	}

	cart.ID = doc.ID
	cart.Version = doc.Version
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, ownerID string) error {
	filter := bson.M{"owner_id": ownerID}

	if _, err := m.collection.DeleteOne(ctx, filter); err != nil {
		return store.NewStorageError("delete", ownerID, fmt.Errorf("failed to delete cart: %w", err))
	}
	return nil
}

// CreateIndexes enforces one cart per owner and lets MongoDB reap carts idle
// past the TTL.
func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(m.idleTTL.Seconds())),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// ConnectMongoDB dials, pings and returns the named database. Disconnect via
// db.Client().
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetAppName("cart-core").
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}
