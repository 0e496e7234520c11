// Package publish mirrors a finished course folder into a blob bucket
// (file://, s3:// or gs://).
package publish

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"

	"coursearchiver/internal/metrics"
)

// Stats summarizes one Mirror call.
type Stats struct {
	Uploaded  int
	Unchanged int
	Bytes     int64
}

// Publisher uploads archive trees to one bucket.
type Publisher struct {
	bucket  *blob.Bucket
	prefix  string
	logger  hclog.Logger
	metrics *metrics.Metrics
}

// Open opens the bucket at bucketURL. Keys are written under prefix.
func Open(ctx context.Context, bucketURL, prefix string, logger hclog.Logger, m *metrics.Metrics) (*Publisher, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &Publisher{
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		logger:  logger.Named("publish"),
		metrics: m,
	}, nil
}

// Mirror uploads every file under dir whose size or checksum differs from
// the object already stored. Keys are <prefix>/<base of dir>/<relative path>.
// Temporary files left by interrupted writes are ignored.
func (p *Publisher) Mirror(ctx context.Context, dir string) (Stats, error) {
	var st Stats
	base := filepath.Base(filepath.Clean(dir))

	err := filepath.WalkDir(dir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || isTemp(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return err
		}
		key := path.Join(p.prefix, base, filepath.ToSlash(rel))

		uploaded, n, err := p.put(ctx, file, key)
		if err != nil {
			return err
		}
		if uploaded {
			st.Uploaded++
			st.Bytes += n
		} else {
			st.Unchanged++
		}
		return nil
	})
	if err != nil {
		return st, err
	}
	p.logger.Info("course published", "dir", dir, "uploaded", st.Uploaded, "unchanged", st.Unchanged, "size", humanize.IBytes(uint64(st.Bytes)))
	return st, nil
}

// put uploads file to key unless an identical object is there already.
func (p *Publisher) put(ctx context.Context, file, key string) (bool, int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return false, 0, err
	}
	defer f.Close()

	h := md5.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return false, 0, fmt.Errorf("hash %s: %w", file, err)
	}
	sum := h.Sum(nil)

	attrs, err := p.bucket.Attributes(ctx, key)
	switch {
	case err == nil:
		if attrs.Size == size && (len(attrs.MD5) == 0 || bytes.Equal(attrs.MD5, sum)) {
			return false, 0, nil
		}
	case gcerrors.Code(err) != gcerrors.NotFound:
		return false, 0, fmt.Errorf("stat %s: %w", key, err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, 0, err
	}
	opts := &blob.WriterOptions{
		ContentType: mime.TypeByExtension(path.Ext(key)),
		ContentMD5:  sum,
	}
	if err := p.bucket.Upload(ctx, key, f, opts); err != nil {
		return false, 0, fmt.Errorf("upload %s: %w", key, err)
	}
	p.metrics.AddBytes("publish", int(size))
	p.logger.Debug("uploaded", "key", key, "size", humanize.IBytes(uint64(size)))
	return true, size, nil
}

// Close releases the bucket.
func (p *Publisher) Close() error {
	return p.bucket.Close()
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}
