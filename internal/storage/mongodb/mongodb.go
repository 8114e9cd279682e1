// Package mongodb implements the voucher store on MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	vouchersCollection    = "vouchers"
	redemptionsCollection = "voucher_redemptions"
)

// Connect opens a client for uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the unique code index and the redemption lookup
// indexes. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(vouchersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("vouchers_code_idx"),
	})
	if err != nil {
		return fmt.Errorf("creating voucher code index: %w", err)
	}

	_, err = db.Collection(redemptionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "voucherId", Value: 1}}, Options: options.Index().SetName("redemptions_voucher_idx")},
		{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName("redemptions_user_idx")},
	})
	if err != nil {
		return fmt.Errorf("creating redemption indexes: %w", err)
	}
	return nil
}
