package cache

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/common/logger"
)

// blobBackend is the storage abstraction the Cache writes fingerprinted responses through.
// Local runs use localBlobBackend rooted at .cache/ inside the run folder; CACHE_DIR=s3://...
// switches every run sharing that bucket prefix onto s3BlobBackend instead, without the Cache
// itself knowing the difference.
type blobBackend interface {
	get(key string) ([]byte, bool, error)
	put(key string, data []byte) error
}

// localBlobBackend stores cache entries as plain files under a root directory. It reuses the
// write-temp-then-rename discipline the Artifact Store uses for outputs, since a cache entry
// has the identical idempotent-write requirement.
type localBlobBackend struct {
	root string
}

func newLocalBlobBackend(root string) (*localBlobBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, gerror.NewErrIO(fmt.Sprintf("error creating cache directory %q", root), err)
	}
	return &localBlobBackend{root: root}, nil
}

func (b *localBlobBackend) get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(b.root, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, gerror.NewErrIO(fmt.Sprintf("error reading cache entry %q", key), err)
	}
	return data, true, nil
}

func (b *localBlobBackend) put(key string, data []byte) error {
	target := filepath.Join(b.root, key)
	if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, data) {
		return nil // idempotent: identical bytes already present
	}
	tmp, err := os.CreateTemp(b.root, ".tmp-*")
	if err != nil {
		return gerror.NewErrIO("error creating temp cache file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return gerror.NewErrIO("error writing temp cache file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return gerror.NewErrIO("error syncing temp cache file", err)
	}
	if err := tmp.Close(); err != nil {
		return gerror.NewErrIO("error closing temp cache file", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return gerror.NewErrIO("error renaming temp cache file into place", err)
	}
	return nil
}

// s3BlobBackend stores cache entries as objects under a bucket/prefix, letting multiple
// machines or runs share one cache location. It is selected when CACHE_DIR is a "s3://" URL.
type s3BlobBackend struct {
	s3       *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
	log      logger.Log
}

// newS3BlobBackend parses a "s3://bucket/prefix" CACHE_DIR value and constructs the backend.
func newS3BlobBackend(cacheDirURL string, log logger.Log) (*s3BlobBackend, error) {
	trimmed := strings.TrimPrefix(cacheDirURL, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	bucket := parts[0]
	prefix := ""
	if len(parts) == 2 {
		prefix = parts[1]
	}
	if bucket == "" {
		return nil, gerror.NewErrValidationFailed(fmt.Sprintf("invalid CACHE_DIR %q: missing bucket", cacheDirURL))
	}
	sess, err := session.NewSession(&aws.Config{})
	if err != nil {
		return nil, gerror.NewErrIO("error creating AWS session for cache", err)
	}
	return &s3BlobBackend{
		s3:       s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   bucket,
		prefix:   prefix,
		log:      log,
	}, nil
}

func (b *s3BlobBackend) key(k string) string {
	if b.prefix == "" {
		return k
	}
	return strings.TrimSuffix(b.prefix, "/") + "/" + k
}

func (b *s3BlobBackend) get(key string) ([]byte, bool, error) {
	out, err := b.s3.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		if strings.Contains(err.Error(), s3.ErrCodeNoSuchKey) {
			return nil, false, nil
		}
		return nil, false, gerror.NewErrIO(fmt.Sprintf("error getting cache object %q", key), err)
	}
	defer out.Body.Close()
	data, err := ioutil.ReadAll(out.Body)
	if err != nil {
		return nil, false, gerror.NewErrIO(fmt.Sprintf("error reading cache object %q", key), err)
	}
	return data, true, nil
}

func (b *s3BlobBackend) put(key string, data []byte) error {
	_, err := b.uploader.Upload(&s3manager.UploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return gerror.NewErrIO(fmt.Sprintf("error putting cache object %q", key), err)
	}
	b.log.WithField("bucket", b.bucket).WithField("key", key).Debug("Uploaded cache entry")
	return nil
}
