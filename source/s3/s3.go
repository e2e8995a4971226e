// Package s3 loads seeds from YAML objects in an AWS S3 bucket.
package s3

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/s3iface"
	"github.com/func/seeder/seed"
	"github.com/func/seeder/source"
	"github.com/pkg/errors"
)

// Loader loads seeds from all objects with a YAML extension under a prefix
// in a bucket.
type Loader struct {
	Bucket string // S3 Bucket is the bucket to use.
	Prefix string // Only objects with this key prefix are loaded.
	Client s3iface.ClientAPI
}

var _ source.Loader = (*Loader)(nil)

// Load reads all seeds under the prefix. Objects are read in key order.
func (l *Loader) Load(ctx context.Context) ([]seed.Seed, error) {
	keys, err := l.keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list objects")
	}
	files := make(map[string][]seed.Seed, len(keys))
	for _, key := range keys {
		seeds, err := l.get(ctx, key)
		if err != nil {
			return nil, errors.Wrapf(err, "get %s", key)
		}
		files[key] = seeds
	}
	return source.Merge(files)
}

func (l *Loader) keys(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(l.Bucket),
	}
	if l.Prefix != "" {
		input.Prefix = aws.String(l.Prefix)
	}
	var keys []string
	for {
		res, err := l.Client.ListObjectsV2Request(input).Send(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "send request")
		}
		for _, obj := range res.Contents {
			key := aws.StringValue(obj.Key)
			if strings.HasSuffix(key, "/") || !source.IsSeedFile(key) {
				continue
			}
			keys = append(keys, key)
		}
		if !aws.BoolValue(res.IsTruncated) {
			return keys, nil
		}
		input.ContinuationToken = res.NextContinuationToken
	}
}

func (l *Loader) get(ctx context.Context, key string) ([]seed.Seed, error) {
	req := l.Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(l.Bucket),
		Key:    aws.String(key),
	})
	res, err := req.Send(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer res.Body.Close()
	return seed.Decode(res.Body)
}
