// internal/client/s3.go
package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3 struct {
	Client   *s3.Client
	Config   *aws.Config
	Endpoint string
}

func NewS3(ctx context.Context, endpoint, region, accessKey, secretKey string) (*S3, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKey != "" && secretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3{
		Client: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = true // used for MinIO
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
			o.Region = region

			if strings.HasPrefix(endpoint, "http://") {
				o.EndpointOptions.DisableHTTPS = true
				o.RequestChecksumCalculation = aws.RequestChecksumCalculationUnset
				o.ResponseChecksumValidation = aws.ResponseChecksumValidationUnset
				o.UsePathStyle = true
			}
		}),
		Config:   &cfg,
		Endpoint: endpoint,
	}, nil
}
