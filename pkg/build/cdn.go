package build

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/google/uuid"
)

// CDNInvalidator invalidates a path prefix so freshly uploaded build
// artifacts are served instead of a stale cached copy. Satisfied by
// *CloudFrontInvalidator.
type CDNInvalidator interface {
	Invalidate(ctx context.Context, pathPrefix string) error
}

// CloudFrontInvalidator invalidates object paths via the CloudFront API,
// reusing aws-sdk-go-v2 (already the teacher's object-storage stack) rather
// than introducing a second cloud SDK for one call.
type CloudFrontInvalidator struct {
	client         *cloudfront.Client
	distributionID string
}

// NewCloudFrontInvalidator builds a CloudFrontInvalidator for distributionID.
func NewCloudFrontInvalidator(ctx context.Context, distributionID string) (*CloudFrontInvalidator, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &CloudFrontInvalidator{
		client:         cloudfront.NewFromConfig(awsCfg),
		distributionID: distributionID,
	}, nil
}

// Invalidate requests invalidation of every object under pathPrefix.
func (c *CloudFrontInvalidator) Invalidate(ctx context.Context, pathPrefix string) error {
	callerRef := fmt.Sprintf("forge-build-%s-%d", uuid.NewString(), time.Now().Unix())
	pattern := "/" + pathPrefix + "/*"

	_, err := c.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(c.distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(callerRef),
			Paths: &types.Paths{
				Quantity: aws.Int32(1),
				Items:    []string{pattern},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("invalidate cdn path %s: %w", pattern, err)
	}
	return nil
}
