package store

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// FirebaseKV writes to a Firebase realtime database at /<namespace>/<key>.
type FirebaseKV struct {
	client  *db.Client
	timeout time.Duration
}

func NewFirebaseKV(ctx context.Context, databaseURL, credentialsFile string, timeout time.Duration) (*FirebaseKV, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("firebase store needs a database url")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase database: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log.Infof("writing detections to %s", databaseURL)
	return &FirebaseKV{client: client, timeout: timeout}, nil
}

func (f *FirebaseKV) Put(ctx context.Context, namespace, key string, value any) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.client.NewRef(namespace).Child(key).Set(ctx, value); err != nil {
		return fmt.Errorf("set /%s/%s: %w", namespace, key, err)
	}
	return nil
}

func (f *FirebaseKV) Close() error {
	return nil
}
