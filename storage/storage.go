// unadulting/storage/storage.go

// Package storage provides the keyed string store used for best-effort
// client-local state: reply drafts, the vote cache fallback, rate-limit
// timestamps and the text-size preference. Nothing here is critical; all
// callers must tolerate errors and missing keys.
package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// KeyValue is a durable keyed string store.
type KeyValue interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// --- Local disk ---

// LocalStore implements KeyValue on a local directory, one file per key.
type LocalStore struct {
	Dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create storage directory %s: %w", dir, err)
	}
	return &LocalStore{Dir: dir}, nil
}

func (ls *LocalStore) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(ls.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (ls *LocalStore) Set(key, value string) error {
	return os.WriteFile(ls.path(key), []byte(value), 0644)
}

func (ls *LocalStore) Delete(key string) error {
	err := os.Remove(ls.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Keys may contain characters unfit for filenames (colons, slashes), so
// the filename is the hex form of the key.
func (ls *LocalStore) path(key string) string {
	return filepath.Join(ls.Dir, hex.EncodeToString([]byte(key))+".kv")
}

// --- S3-compatible object storage ---

// S3Store implements KeyValue on S3-compatible object storage.
type S3Store struct {
	Client     *minio.Client
	BucketName string
	Prefix     string
}

func NewS3Store(endpoint, accessKey, secretKey, bucket, region, prefix string, useSSL bool) (*S3Store, error) {
	// Strip scheme if present
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	var creds *credentials.Credentials
	if accessKey == "" || secretKey == "" {
		// Use IAM role credentials if keys are not provided
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	exists, err := minioClient.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	return &S3Store{
		Client:     minioClient,
		BucketName: bucket,
		Prefix:     strings.TrimSuffix(prefix, "/"),
	}, nil
}

func (s3 *S3Store) Get(key string) (string, bool, error) {
	ctx := context.Background()
	obj, err := s3.Client.GetObject(ctx, s3.BucketName, s3.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return "", false, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

func (s3 *S3Store) Set(key, value string) error {
	ctx := context.Background()
	reader := bytes.NewReader([]byte(value))
	_, err := s3.Client.PutObject(ctx, s3.BucketName, s3.objectKey(key), reader, int64(len(value)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	return err
}

func (s3 *S3Store) Delete(key string) error {
	ctx := context.Background()
	return s3.Client.RemoveObject(ctx, s3.BucketName, s3.objectKey(key), minio.RemoveObjectOptions{})
}

func (s3 *S3Store) objectKey(key string) string {
	encoded := hex.EncodeToString([]byte(key))
	if s3.Prefix == "" {
		return encoded
	}
	return s3.Prefix + "/" + encoded
}
