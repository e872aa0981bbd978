package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const connectAttempts = 5

// ConnectMongoDB connects and pings the cart database. The ping is retried
// because in compose setups the service regularly starts before mongod is
// ready to accept connections.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	var pingErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if pingErr = client.Ping(ctx, readpref.Primary()); pingErr == nil {
			return client.Database(database), nil
		}
		log.Printf("MongoDB ping attempt %d/%d failed: %v", attempt, connectAttempts, pingErr)

		select {
		case <-ctx.Done():
			pingErr = ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
			continue
		}
		break
	}

	if discErr := client.Disconnect(context.Background()); discErr != nil {
		log.Printf("MongoDB disconnect after failed ping: %v", discErr)
	}
	return nil, fmt.Errorf("failed to ping MongoDB: %w", pingErr)
}
