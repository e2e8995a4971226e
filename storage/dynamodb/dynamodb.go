// Package dynamodb implements a key-value backend on AWS DynamoDB, allowing
// multiple seeder replicas to share reconciliation state.
package dynamodb

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/dynamodbiface"
	"github.com/func/seeder/storage"
	"github.com/pkg/errors"
)

// Table attributes.
const (
	attrBucket = "Bucket"
	attrKey    = "Key"
	attrValue  = "Value"
)

// DynamoDB stores key-value pairs in a DynamoDB table. The bucket of a key is
// the hash key and the rest of the key is the range key.
type DynamoDB struct {
	Client    dynamodbiface.ClientAPI
	TableName string
}

var _ storage.KVBackend = (*DynamoDB)(nil)

// New creates a new DynamoDB backend.
func New(cfg aws.Config, tableName string) *DynamoDB {
	return &DynamoDB{
		Client:    dynamodb.New(cfg),
		TableName: tableName,
	}
}

// CreateTable creates the DynamoDB table.
func (d *DynamoDB) CreateTable(ctx context.Context, rcu, wcu int64) error {
	_, err := d.Client.CreateTableRequest(&dynamodb.CreateTableInput{
		TableName: aws.String(d.TableName),
		AttributeDefinitions: []dynamodb.AttributeDefinition{
			{AttributeName: aws.String(attrBucket), AttributeType: dynamodb.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrKey), AttributeType: dynamodb.ScalarAttributeTypeS},
		},
		KeySchema: []dynamodb.KeySchemaElement{
			{AttributeName: aws.String(attrBucket), KeyType: dynamodb.KeyTypeHash},
			{AttributeName: aws.String(attrKey), KeyType: dynamodb.KeyTypeRange},
		},
		ProvisionedThroughput: &dynamodb.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(rcu),
			WriteCapacityUnits: aws.Int64(wcu),
		},
	}).Send(ctx)
	return errors.Wrap(err, "create table")
}

func itemKey(key string) (map[string]dynamodb.AttributeValue, error) {
	slash := strings.LastIndex(key, "/")
	if slash <= 0 || slash == len(key)-1 {
		return nil, errors.Errorf("invalid key %q", key)
	}
	return map[string]dynamodb.AttributeValue{
		attrBucket: {S: aws.String(key[:slash])},
		attrKey:    {S: aws.String(key[slash+1:])},
	}, nil
}

// Put creates or updates a value.
func (d *DynamoDB) Put(ctx context.Context, key string, value []byte) error {
	item, err := itemKey(key)
	if err != nil {
		return err
	}
	item[attrValue] = dynamodb.AttributeValue{B: value}
	input := &dynamodb.PutItemInput{
		TableName: aws.String(d.TableName),
		Item:      item,
	}
	if _, err := d.Client.PutItemRequest(input).Send(ctx); err != nil {
		return errors.Wrap(err, "dynamodb put")
	}
	return nil
}

// Get returns a single value.
func (d *DynamoDB) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := itemKey(key)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(d.TableName),
		Key:            k,
		ConsistentRead: aws.Bool(true),
	}
	resp, err := d.Client.GetItemRequest(input).Send(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "dynamodb get")
	}
	if resp.Item == nil {
		return nil, storage.ErrNotFound
	}
	return resp.Item[attrValue].B, nil
}

// Delete deletes a key.
func (d *DynamoDB) Delete(ctx context.Context, key string) error {
	k, err := itemKey(key)
	if err != nil {
		return err
	}
	input := &dynamodb.DeleteItemInput{
		TableName:    aws.String(d.TableName),
		Key:          k,
		ReturnValues: dynamodb.ReturnValueAllOld,
	}
	resp, err := d.Client.DeleteItemRequest(input).Send(ctx)
	if err != nil {
		return errors.Wrap(err, "dynamodb delete")
	}
	if len(resp.Attributes) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Scan returns all values within a bucket.
func (d *DynamoDB) Scan(ctx context.Context, bucket string) (map[string][]byte, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.TableName),
		KeyConditionExpression: aws.String("#bucket = :bucket"),
		ExpressionAttributeNames: map[string]string{
			"#bucket": attrBucket,
		},
		ExpressionAttributeValues: map[string]dynamodb.AttributeValue{
			":bucket": {S: aws.String(bucket)},
		},
		ConsistentRead: aws.Bool(true),
	}
	out := make(map[string][]byte)
	for {
		resp, err := d.Client.QueryRequest(input).Send(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "query dynamodb")
		}
		for _, item := range resp.QueryOutput.Items {
			k := item[attrKey].S
			if k == nil {
				continue
			}
			out[bucket+"/"+*k] = item[attrValue].B
		}
		if len(resp.QueryOutput.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = resp.QueryOutput.LastEvaluatedKey
	}
}
