package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	cos "github.com/tencentyun/cos-go-sdk-v5"
)

const defaultCOSRegion = "ap-hongkong"

// COS stores images in a Tencent Cloud Object Storage bucket served from a public domain.
type COS struct {
	client       *cos.Client
	publicDomain string
}

// NewCOS creates a COS uploader for bucket in region.
func NewCOS(bucket, region, secretID, secretKey, publicDomain string) (*COS, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		region = defaultCOSRegion
	}
	bucketURL, err := url.Parse(fmt.Sprintf("https://%s.cos.%s.myqcloud.com", strings.TrimSpace(bucket), region))
	if err != nil {
		return nil, fmt.Errorf("parse bucket url: %w", err)
	}
	return newCOSWithURL(bucketURL, secretID, secretKey, publicDomain), nil
}

func newCOSWithURL(bucketURL *url.URL, secretID, secretKey, publicDomain string) *COS {
	client := cos.NewClient(&cos.BaseURL{BucketURL: bucketURL}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  strings.TrimSpace(secretID),
			SecretKey: strings.TrimSpace(secretKey),
		},
	})
	return &COS{
		client:       client,
		publicDomain: strings.TrimRight(strings.TrimSpace(publicDomain), "/"),
	}
}

// Upload puts the image under a unique key and returns its public URL.
func (c *COS) Upload(ctx context.Context, data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image bytes are empty")
	}
	key := objectKey(name)
	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{ContentType: "image/jpeg"},
	}
	if _, err := c.client.Object.Put(ctx, key, bytes.NewReader(data), opt); err != nil {
		var cosErr *cos.ErrorResponse
		if errors.As(err, &cosErr) {
			return "", fmt.Errorf("%w: cos %s: %s", ErrRejected, cosErr.Code, cosErr.Message)
		}
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return c.publicDomain + "/" + key, nil
}
