/*
Copyright © 2024 the aistiles authors.
This file is part of aistiles.

aistiles is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

aistiles is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with aistiles.  If not, see <http://www.gnu.org/licenses/>.
*/

package cloud

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
)

// MaxRetries is the number of times a failed upload is retried.
var MaxRetries uint64 = 5

// uploadFile copies the local file at src to key in bucket.
func uploadFile(ctx context.Context, bucket *blob.Bucket, key, src string) error {
	r, err := os.Open(src)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("cloud: opening %s for upload: %w", src, err))
	}
	defer r.Close()
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType: mime.TypeByExtension(filepath.Ext(src)),
	})
	if err != nil {
		return fmt.Errorf("cloud: creating writer for blob %s: %w", key, err)
	}
	if _, err = io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("cloud: copying %s to blob %s: %w", src, key, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("cloud: writing blob %s: %w", key, err)
	}
	return nil
}

// Publish uploads every regular file under dir to the blob storage
// location dest (see OpenBucket), keeping the relative paths under the
// location's prefix and the additional key prefix sub. Each upload is
// retried with exponential backoff. It returns the number of files
// uploaded.
func Publish(ctx context.Context, dest, sub, dir string, log logrus.FieldLogger) (int, error) {
	bucket, prefix, err := OpenBucket(ctx, dest)
	if err != nil {
		return 0, err
	}
	defer bucket.Close()
	if log == nil {
		log = logrus.StandardLogger()
	}
	prefix = path.Join(prefix, sub)

	var n int
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxRetries), ctx)
		err = backoff.RetryNotify(
			func() error { return uploadFile(ctx, bucket, key, p) },
			b,
			func(err error, d time.Duration) {
				log.WithField("key", key).WithError(err).Warnf("upload failed; retrying in %v", d)
			},
		)
		if err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("cloud: publishing %s: %w", dir, err)
	}
	log.WithFields(logrus.Fields{"files": n, "destination": dest}).Info("published")
	return n, nil
}
