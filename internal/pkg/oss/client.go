package oss

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/gen_go_server/config"
)

// Client 生成结果归档客户端
type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
}

func NewClient(cfg *config.OSSConfig, options ...oss.ClientOption) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		cdnDomain:  cfg.CDNDomain,
	}, nil
}

// UploadManifest 上传生成请求的结果清单 JSON
func (c *Client) UploadManifest(requestID int64, data []byte) (string, error) {
	objectKey := ManifestKey(requestID, time.Now())

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType("application/json"))
	if err != nil {
		return "", fmt.Errorf("failed to upload manifest: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// GetURL 获取文件访问 URL
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.cdnDomain, objectKey)
	}
	endpoint := c.client.Config.Endpoint
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", c.bucketName, endpoint, objectKey)
}

// ManifestKey 清单对象路径，按请求分目录
func ManifestKey(requestID int64, at time.Time) string {
	return fmt.Sprintf("manifests/%d/%d.json", requestID, at.Unix())
}
