/*
Copyright (C) 2026  CRCache Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 layout: <prefix>/<name>.snap
// S3 has no append, so a snapshot is buffered and uploaded as one object
// when the writer is closed.

func init() {
	BackendRegistry["s3"] = func(name string, raw json.RawMessage) SnapshotEngine {
		var cfg struct {
			AccessKeyID     string `json:"access_key_id"`
			SecretAccessKey string `json:"secret_access_key"`
			Region          string `json:"region"`
			Endpoint        string `json:"endpoint"`
			Bucket          string `json:"bucket"`
			Prefix          string `json:"prefix"`
			ForcePathStyle  bool   `json:"force_path_style"`
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			panic("s3 backend: invalid config: " + err.Error())
		}
		factory := &S3Factory{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			ForcePathStyle:  cfg.ForcePathStyle,
		}
		return factory.CreateSnapshots(name)
	}
}

type S3Factory struct {
	AccessKeyID     string // AWS or S3-compatible access key
	SecretAccessKey string // AWS or S3-compatible secret key
	Region          string // AWS region (e.g., "us-east-1")
	Endpoint        string // Custom endpoint for S3-compatible storage (MinIO, etc.)
	Bucket          string // S3 bucket name
	Prefix          string // Object key prefix
	ForcePathStyle  bool   // Use path-style URLs (required for MinIO)
}

func (f *S3Factory) CreateSnapshots(name string) SnapshotEngine {
	pfx := strings.TrimSuffix(f.Prefix, "/")
	key := name + ".snap"
	if pfx != "" {
		key = pfx + "/" + key
	}
	return &S3Snapshots{factory: f, object: key}
}

type S3Snapshots struct {
	factory *S3Factory
	object  string

	connect sync.Once
	client  *s3.Client
}

// s3client dials lazily on first use. Explicit credentials and region from
// the factory override the ambient AWS config chain; endpoint and path
// style are applied at the client so the same config works against MinIO.
func (s *S3Snapshots) s3client() *s3.Client {
	s.connect.Do(func() {
		f := s.factory
		var load []func(*config.LoadOptions) error
		if f.Region != "" {
			load = append(load, config.WithRegion(f.Region))
		}
		if f.AccessKeyID != "" && f.SecretAccessKey != "" {
			static := credentials.NewStaticCredentialsProvider(f.AccessKeyID, f.SecretAccessKey, "")
			load = append(load, config.WithCredentialsProvider(static))
		}
		cfg, err := config.LoadDefaultConfig(context.Background(), load...)
		if err != nil {
			panic("s3 backend: " + err.Error())
		}
		s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if f.Endpoint != "" {
				o.BaseEndpoint = aws.String(f.Endpoint)
			}
			o.UsePathStyle = f.ForcePathStyle
		})
	})
	return s.client
}

func (s *S3Snapshots) ReadSnapshot() io.ReadCloser {
	resp, err := s.s3client().GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.factory.Bucket),
		Key:    aws.String(s.object),
	})
	if err != nil {
		return ErrorReader{err}
	}
	return resp.Body
}

// s3WriteCloser collects the snapshot stream; the upload happens on Close.
type s3WriteCloser struct {
	s      *S3Snapshots
	buf    bytes.Buffer
	closed bool
}

func (w *s3WriteCloser) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *s3WriteCloser) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.s.s3client().PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(w.s.factory.Bucket),
		Key:    aws.String(w.s.object),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	return err
}

func (s *S3Snapshots) WriteSnapshot() io.WriteCloser {
	return &s3WriteCloser{s: s}
}

func (s *S3Snapshots) Remove() {
	s.s3client().DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.factory.Bucket),
		Key:    aws.String(s.object),
	})
}
