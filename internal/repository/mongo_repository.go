package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/store"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SessionTTL matches the in-memory store: idle carts expire after 30 days.
const SessionTTL = 30 * 24 * time.Hour

// money is kept as strings so no precision is lost in BSON.
type cartLineDoc struct {
	ProductID   int64  `bson:"product_id"`
	ProductName string `bson:"product_name"`
	UnitPrice   string `bson:"unit_price"`
	Quantity    int    `bson:"quantity"`
	Subtotal    string `bson:"subtotal"`
}

type sessionDoc struct {
	ID          string        `bson:"session_id"`
	UserID      string        `bson:"user_id"`
	StoreID     string        `bson:"store_id"`
	TenantID    string        `bson:"tenant_id"`
	Items       []cartLineDoc `bson:"cart_items"`
	CustomerID  *string       `bson:"customer_id"`
	TotalAmount string        `bson:"total_amount"`
	Version     int64         `bson:"version"`
	CreatedAt   time.Time     `bson:"created_at"`
	UpdatedAt   time.Time     `bson:"updated_at"`
}

func toSessionDoc(s *domain.Session) sessionDoc {
	items := make([]cartLineDoc, len(s.Items))
	for i, line := range s.Items {
		items[i] = cartLineDoc{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice.String(),
			Quantity:    line.Quantity,
			Subtotal:    line.Subtotal.String(),
		}
	}
	return sessionDoc{
		ID:          s.ID,
		UserID:      s.UserID,
		StoreID:     s.StoreID,
		TenantID:    s.TenantID,
		Items:       items,
		CustomerID:  s.CustomerID,
		TotalAmount: s.TotalAmount.String(),
		Version:     s.Version,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func (d sessionDoc) toDomain() (*domain.Session, error) {
	items := make([]domain.CartLine, len(d.Items))
	for i, line := range d.Items {
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("parse unit price of product %d: %w", line.ProductID, err)
		}
		subtotal, err := decimal.NewFromString(line.Subtotal)
		if err != nil {
			return nil, fmt.Errorf("parse subtotal of product %d: %w", line.ProductID, err)
		}
		items[i] = domain.CartLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   price,
			Quantity:    line.Quantity,
			Subtotal:    subtotal,
		}
	}
	total, err := decimal.NewFromString(d.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("parse total amount: %w", err)
	}
	return &domain.Session{
		ID:          d.ID,
		UserID:      d.UserID,
		StoreID:     d.StoreID,
		TenantID:    d.TenantID,
		Items:       items,
		CustomerID:  d.CustomerID,
		TotalAmount: total,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

// MongoSessionRepository keeps one open cart document per cashier and store.
type MongoSessionRepository struct {
	collection *mongo.Collection
}

func NewMongoSessionRepository(db *mongo.Database) *MongoSessionRepository {
	return &MongoSessionRepository{
		collection: db.Collection("sessions"),
	}
}

var _ store.SessionStore = (*MongoSessionRepository)(nil)

func keyFilter(key domain.SessionKey) bson.M {
	return bson.M{"user_id": key.UserID, "store_id": key.StoreID}
}

// GetOrCreateSession relies on the unique (user_id, store_id) index so that
// two processes racing on the same key end up with one document.
func (m *MongoSessionRepository) GetOrCreateSession(ctx context.Context, fresh *domain.Session) (*domain.Session, error) {
	doc := toSessionDoc(fresh)
	update := bson.M{"$setOnInsert": doc}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var stored sessionDoc
	err := m.collection.FindOneAndUpdate(ctx, keyFilter(fresh.Key()), update, opts).Decode(&stored)
	if mongo.IsDuplicateKeyError(err) {
		// lost the insert race, the winner's document is there now
		err = m.collection.FindOne(ctx, keyFilter(fresh.Key())).Decode(&stored)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get or create session: %w", err)
	}
	return stored.toDomain()
}

func (m *MongoSessionRepository) GetSession(ctx context.Context, key domain.SessionKey) (*domain.Session, error) {
	var stored sessionDoc
	err := m.collection.FindOne(ctx, keyFilter(key)).Decode(&stored)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return stored.toDomain()
}

func (m *MongoSessionRepository) SaveSession(ctx context.Context, session *domain.Session) error {
	doc := toSessionDoc(session)
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)

	_, err := m.collection.UpdateOne(ctx, keyFilter(session.Key()), update, opts)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (m *MongoSessionRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "store_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(SessionTTL.Seconds())),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
