package backend

import "context"

// ObjectStore accepts binary uploads and returns a public URL for each. The
// app only writes; serving the stored objects is the host platform's concern.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte) (string, error)
}
