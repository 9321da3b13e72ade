package archive

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// ObjectAttrs are the attributes set on an archive object when it is created.
type ObjectAttrs struct {
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

// GCSClient is the slice of *storage.Client the archive uploads through.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle is the slice of *storage.BucketHandle the archive uses.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle opens a writer for a new object. The object becomes
// visible when the writer is closed without error.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context, attrs ObjectAttrs) io.WriteCloser
}

// NewGCSClientAdapter exposes client as a GCSClient. A nil client gives a nil
// GCSClient, which the sink constructors reject.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return storageClient{client}
}

type storageClient struct{ c *storage.Client }

func (s storageClient) Bucket(name string) GCSBucketHandle {
	return storageBucket{s.c.Bucket(name)}
}

type storageBucket struct{ b *storage.BucketHandle }

func (s storageBucket) Object(name string) GCSObjectHandle {
	return storageObject{s.b.Object(name)}
}

type storageObject struct{ o *storage.ObjectHandle }

func (s storageObject) NewWriter(ctx context.Context, attrs ObjectAttrs) io.WriteCloser {
	w := s.o.NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.ContentEncoding = attrs.ContentEncoding
	w.Metadata = attrs.Metadata
	return w
}
