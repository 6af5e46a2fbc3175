package scan

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type S3Args struct {
	Region string `arg:"--region,env:AWS_REGION,help:AWS region"`
}

// S3Fetcher fetches s3://<bucket>/<key> artifacts through the AWS SDK.
type S3Fetcher struct {
	svc *s3.S3
}

func NewS3Fetcher(args S3Args) *S3Fetcher {
	sess := session.Must(session.NewSession(
		&aws.Config{
			Region:                        aws.String(args.Region),
			CredentialsChainVerboseErrors: aws.Bool(true),
		},
	))
	return &S3Fetcher{svc: s3.New(sess)}
}

func (f *S3Fetcher) Fetch(ctx context.Context, uri string) (int64, io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to parse [%s]: %w", uri, err)
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return 0, nil, fmt.Errorf("[%s] does not name an s3 bucket and key", uri)
	}
	out, err := f.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to fetch [%s]: %w", uri, err)
	}
	length := int64(-1)
	if out.ContentLength != nil {
		length = *out.ContentLength
	}
	return length, out.Body, nil
}
