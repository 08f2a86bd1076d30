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

// Package cloud publishes tile pyramids to blob storage.
package cloud

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// OpenBucket opens the blob storage location given as a URL of the form
// 'provider://name/prefix' and returns the bucket and the key prefix
// (without leading or trailing slashes) within it.
// Accepted providers are "file" for a local directory, where the whole
// path is the directory and the prefix is empty, "gs" for Google Cloud
// Storage, and "s3" for AWS S3.
func OpenBucket(ctx context.Context, location string) (*blob.Bucket, string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, "", fmt.Errorf("cloud: parsing bucket location: %w", err)
	}
	prefix := strings.Trim(u.Path, "/")
	var b *blob.Bucket
	switch u.Scheme {
	case "file":
		dir := u.Host + u.Path
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, "", fmt.Errorf("cloud: creating bucket directory: %w", err)
		}
		b, err = fileblob.OpenBucket(dir, nil)
		prefix = ""
	case "gs":
		b, err = gsBucket(ctx, u.Host)
	case "s3":
		b, err = s3Bucket(ctx, u.Host)
	default:
		return nil, "", fmt.Errorf("cloud: invalid storage provider %q", u.Scheme)
	}
	if err != nil {
		return nil, "", fmt.Errorf("cloud: opening bucket %s: %w", location, err)
	}
	return b, prefix, nil
}

func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	// See https://cloud.google.com/docs/authentication/getting-started
	// for how default credentials are found.
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, c, name, nil)
}

// s3Bucket opens an s3 storage bucket using the AWS_REGION,
// AWS_ACCESS_KEY_ID, and AWS_SECRET_ACCESS_KEY environment variables.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-2"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	s, err := session.NewSession(c)
	if err != nil {
		return nil, err
	}
	return s3blob.OpenBucket(ctx, s, name, nil)
}
