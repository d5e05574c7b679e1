package filepool

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/opencontainers/go-digest"
)

// S3Config locates a pool in an S3 bucket.
type S3Config struct {
	Endpoint string
	UseHTTP  bool
	Bucket   string
	Prefix   string

	KeyID, Secret string
}

// ParseS3Config parses s3://host/bucket/prefix and
// s3:http(s)://host/bucket/prefix.
func ParseS3Config(s string) (S3Config, error) {
	var cfg S3Config

	switch {
	case strings.HasPrefix(s, "s3:http"):
		u, err := url.Parse(s[3:])
		if err != nil {
			return cfg, errors.Wrap(err, "url.Parse")
		}
		cfg.Endpoint = u.Host
		cfg.UseHTTP = u.Scheme == "http"
		s = strings.TrimPrefix(u.Path, "/")
	case strings.HasPrefix(s, "s3://"):
		s = s[5:]
		i := strings.IndexByte(s, '/')
		if i < 0 {
			return cfg, errors.New("s3: bucket name not found")
		}
		cfg.Endpoint, s = s[:i], s[i+1:]
	default:
		return cfg, errors.New("s3: invalid format")
	}

	parts := strings.SplitN(s, "/", 2)
	if cfg.Endpoint == "" || parts[0] == "" {
		return cfg, errors.New("s3: invalid format, host or bucket name not found")
	}
	cfg.Bucket = parts[0]
	if len(parts) > 1 && parts[1] != "" {
		cfg.Prefix = path.Clean(parts[1])
	}
	return cfg, nil
}

// S3Pool keeps package files in an S3 bucket.
type S3Pool struct {
	cfg    S3Config
	client *minio.Client
	tmpdir string
	dir    string

	New       int
	Requested int
}

// NewS3Pool connects to the bucket. Credentials are taken from cfg, the
// AWS and Minio environment variables and credential files.
func NewS3Pool(ctx context.Context, cfg S3Config, rt http.RoundTripper, tmpdir string) (*S3Pool, error) {
	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.Static{
			Value: credentials.Value{
				AccessKeyID:     cfg.KeyID,
				SecretAccessKey: cfg.Secret,
			},
		},
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.FileAWSCredentials{},
		&credentials.FileMinioClient{},
	})

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     creds,
		Secure:    !cfg.UseHTTP,
		Transport: rt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "minio.New")
	}

	found, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "BucketExists")
	}
	if !found {
		return nil, errors.Errorf("s3: bucket %v does not exist", cfg.Bucket)
	}

	debug.Log("s3 pool %v/%v/%v", cfg.Endpoint, cfg.Bucket, cfg.Prefix)
	return &S3Pool{cfg: cfg, client: client, tmpdir: tmpdir}, nil
}

func (p *S3Pool) key(d digest.Digest) string {
	return path.Join(p.cfg.Prefix, Key(d))
}

func isNotExist(err error) bool {
	var e minio.ErrorResponse
	return errors.As(err, &e) && (e.Code == "NoSuchKey" || e.StatusCode == http.StatusNotFound)
}

func (p *S3Pool) has(ctx context.Context, key string) (bool, error) {
	_, err := p.client.StatObject(ctx, p.cfg.Bucket, key, minio.StatObjectOptions{})
	if isNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "StatObject")
	}
	return true, nil
}

// Get downloads content d from the bucket into a scratch directory.
func (p *S3Pool) Get(ctx context.Context, d digest.Digest, name string) (string, bool, error) {
	key := p.key(d)
	ok, err := p.has(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}

	if p.dir == "" {
		dir, err := os.MkdirTemp(p.tmpdir, "hashget-tmp-pool-")
		if err != nil {
			return "", false, errors.WithStack(err)
		}
		p.dir = dir
	}

	filename := filepath.Join(p.dir, localName(d, name))
	if err := p.client.FGetObject(ctx, p.cfg.Bucket, key, filename, minio.GetObjectOptions{}); err != nil {
		return "", false, errors.Wrap(err, "FGetObject")
	}
	p.Requested++
	return filename, true, nil
}

// Append uploads the file unless the bucket already has its content.
func (p *S3Pool) Append(ctx context.Context, filename string) (bool, error) {
	h, _, err := hashspec.Sum(filename, false)
	if err != nil {
		return false, err
	}

	key := p.key(h.SHA256)
	ok, err := p.has(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		debug.Log("%v already in %v", filename, p)
		return false, nil
	}

	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	info, err := p.client.FPutObject(ctx, p.cfg.Bucket, key, filename, opts)
	if err != nil {
		return false, errors.Wrap(err, "FPutObject")
	}
	debug.Log("uploaded %v to %v (%d bytes)", filename, key, info.Size)
	p.New++
	return true, nil
}

// Cleanup removes downloaded files.
func (p *S3Pool) Cleanup() error {
	if p.dir == "" {
		return nil
	}
	err := fs.RemoveAll(p.dir)
	p.dir = ""
	return errors.WithStack(err)
}

func (p *S3Pool) String() string {
	return fmt.Sprintf("s3 pool %v/%v/%v", p.cfg.Endpoint, p.cfg.Bucket, p.cfg.Prefix)
}
