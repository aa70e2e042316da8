package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ storage.Store = (*Adapter)(nil)

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket" validate:"required"`
	AccessKeyID     string `mapstructure:"access_key"`
	SecretAccessKey string `mapstructure:"secret_key"`
	Prefix          string `mapstructure:"prefix"` // 多个节点共用一个桶时用来隔离
}

// NewAdapter 初始化 S3 客户端 (适配 AWS SDK v2)
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	// 1. 加载基础配置 (仅包含 Region 和 Credentials)
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. 创建 S3 客户端时，注入特定于 S3 的配置
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// 如果指定了 Endpoint (比如 MinIO 的 localhost:9000)，则覆盖默认值
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO 必须强制使用 Path Style
		o.UsePathStyle = true
	})

	// 3. 确保 Bucket 存在
	if _, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &cfg.Bucket}); err != nil {
		if _, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &cfg.Bucket}); err != nil {
			// 并发创建或权限问题，继续运行，真正的读写会暴露问题
			slog.Warn("Failed to ensure bucket exists", "bucket", cfg.Bucket, "err", err)
		}
	}

	return &Adapter{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// transformKey 将 Key 的摘要转换为 S3 Key (Sharding)
// Logic: digest "aabbcc..." -> "<prefix>/aa/bbcc..."
func (s *Adapter) transformKey(key string) string {
	dir, file := storage.Layout(storage.Digest(key))
	if s.prefix == "" {
		return dir + "/" + file
	}
	return s.prefix + "/" + dir + "/" + file
}

// Put 上传对象 (覆盖写)
func (s *Adapter) Put(ctx context.Context, obj core.Object) error {
	sealed, err := storage.Seal(obj.Key(), obj.Bytes())
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.transformKey(obj.Key())),
		Body:        bytes.NewReader(sealed),
		ContentType: aws.String("application/cbor"),
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}

func (s *Adapter) fetch(ctx context.Context, objectKey string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		// 将 AWS 的 NoSuchKey 错误映射为我们自己的 ErrNotFound
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Get 下载对象
func (s *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.fetch(ctx, s.transformKey(key))
	if err != nil {
		return nil, err
	}
	stored, data, err := storage.Open(raw)
	if err != nil {
		return nil, err
	}
	if stored != key {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

// Has 检查对象是否存在
func (s *Adapter) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Delete S3 的 DeleteObject 对不存在的 Key 也返回成功，所以先 Head 一次
func (s *Adapter) Delete(ctx context.Context, key string) (bool, error) {
	found, err := s.Has(ctx, key)
	if err != nil || !found {
		return false, err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(key)),
	})
	if err != nil {
		return false, fmt.Errorf("s3 delete failed: %w", err)
	}
	return true, nil
}

// Enumerate 分页列出前缀下的全部对象
func (s *Adapter) Enumerate(ctx context.Context, fn func(key string, data []byte) error) error {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	pager := s3.NewListObjectsV2Paginator(s.client, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3 list failed: %w", err)
		}
		for _, obj := range page.Contents {
			raw, err := s.fetch(ctx, aws.ToString(obj.Key))
			if errors.Is(err, storage.ErrNotFound) {
				continue // 遍历期间被删除
			}
			if err != nil {
				return err
			}
			key, data, err := storage.Open(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", aws.ToString(obj.Key), err)
			}
			if err := fn(key, data); err != nil {
				return err
			}
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}
	// 兼容性：某些 S3 实现可能返回 generic 404 error string
	return strings.Contains(err.Error(), "404")
}
