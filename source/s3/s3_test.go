//go:build integration
// +build integration

package s3

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/external"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/s3iface"
	"github.com/func/seeder/seed"
	"github.com/google/go-cmp/cmp"
)

func TestLoader(t *testing.T) {
	bucket := "test-seeds"

	cli := getAPI(t)
	cleanup := makeBucket(t, cli, bucket)
	defer cleanup()

	ctx := context.Background()

	objects := map[string]string{
		"seeds/a.yaml":   "namespace: ns\nname: a\nspec:\n  roles:\n    - name: admin\n",
		"seeds/b.yml":    "namespace: ns\nname: b\nspec: {}\n",
		"seeds/note.txt": "ignored",
		"other/c.yaml":   "namespace: ns\nname: c\nspec: {}\n",
	}
	for key, body := range objects {
		_, err := cli.PutObjectRequest(&s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader([]byte(body)),
		}).Send(ctx)
		if err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	l := &Loader{Bucket: bucket, Prefix: "seeds/", Client: cli}
	got, err := l.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []seed.Seed{
		{
			Ref:  seed.Ref{Namespace: "ns", Name: "a"},
			Spec: seed.Record{"roles": []interface{}{map[string]interface{}{"name": "admin"}}},
		},
		{
			Ref:  seed.Ref{Namespace: "ns", Name: "b"},
			Spec: seed.Record{},
		},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Load() (-got, +want)\n%s", diff)
	}
}

func getAPI(t *testing.T) *s3.Client {
	t.Helper()

	accessKey := os.Getenv("TEST_S3_ACCESS_KEY")
	secretKey := os.Getenv("TEST_S3_SECRET_KEY")
	region := os.Getenv("TEST_S3_REGION")
	endpoint := os.Getenv("TEST_S3_ENDPOINT")

	if accessKey == "" {
		t.Fatal("TEST_S3_ACCESS_KEY not set")
	}
	if secretKey == "" {
		t.Fatal("TEST_S3_SECRET_KEY not set")
	}
	if region == "" {
		t.Fatal("TEST_S3_REGION not set")
	}

	cfgs := external.Configs{
		external.WithRegion(region),
		external.WithCredentialsValue(aws.Credentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
		}),
	}
	cfg, err := cfgs.ResolveAWSConfig(external.DefaultAWSConfigResolvers)
	if err != nil {
		t.Fatal(err)
	}

	cli := s3.New(cfg)

	if endpoint != "" {
		cli.Config.EndpointResolver = aws.ResolveWithEndpointURL(endpoint)
		cli.ForcePathStyle = true
	}

	return cli
}

func makeBucket(t *testing.T, cli s3iface.ClientAPI, name string) func() {
	t.Helper()

	ctx := context.Background()

	_, err := cli.CreateBucketRequest(&s3.CreateBucketInput{Bucket: aws.String(name)}).Send(ctx)
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}

	cleanup := func() {
		res, err := cli.ListObjectsV2Request(&s3.ListObjectsV2Input{
			Bucket: aws.String(name),
		}).Send(ctx)
		if err != nil {
			t.Fatal(err)
		}

		ids := make([]s3.ObjectIdentifier, len(res.Contents))
		for i, c := range res.Contents {
			ids[i] = s3.ObjectIdentifier{
				Key: c.Key,
			}
		}

		if _, err = cli.DeleteObjectsRequest(&s3.DeleteObjectsInput{
			Bucket: aws.String(name),
			Delete: &s3.Delete{
				Objects: ids,
			},
		}).Send(ctx); err != nil {
			t.Fatal(err)
		}

		if _, err = cli.DeleteBucketRequest(&s3.DeleteBucketInput{Bucket: aws.String(name)}).Send(ctx); err != nil {
			t.Fatal(err)
		}
	}

	return cleanup
}
