//go:build integration
// +build integration

package dynamodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/defaults"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/func/seeder/storage"
	"github.com/func/seeder/storage/kvtest"
	"github.com/segmentio/ksuid"
)

func TestDynamoDB(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) (storage.KVBackend, func()) {
		endpoint := os.Getenv("TEST_DYNAMODB_ENDPOINT")

		if endpoint == "" {
			t.Fatal("TEST_DYNAMODB_ENDPOINT not set")
		}

		cfg := defaults.Config()
		cfg.Region = "local"
		cfg.EndpointResolver = aws.ResolveWithEndpointURL(endpoint)
		cfg.Credentials = aws.NewStaticCredentialsProvider("local", "local", "")

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		ddb := New(cfg, "seeder-test-"+ksuid.New().String())
		if err := ddb.CreateTable(ctx, 1, 1); err != nil {
			t.Log("Maybe DynamoDB local is not running?")
			t.Fatalf("Create state table: %v", err)
		}

		cleanup := func() {
			cli := dynamodb.New(cfg)
			_, err := cli.DeleteTableRequest(&dynamodb.DeleteTableInput{
				TableName: aws.String(ddb.TableName),
			}).Send(context.Background())
			if err != nil {
				t.Fatalf("Delete DynamoDB table: %v", err)
			}
		}

		return ddb, cleanup
	})
}
