// Package artifact implements the durable object-storage uploader spec
// §4.7 requires: stream a Provider-returned output URL into a storage
// key and hand back the stored URL. Grounded on the aws-sdk-go-v2 S3
// client the pack's zerostate/libs/storage/s3.go wires up, adapted to
// stream-from-URL instead of upload-from-bytes since the Provider never
// hands this repository raw bytes, only a source URL to pull from.
package artifact

import "context"

// Store uploads one artifact identified by sourceURL to key and returns
// the durable URL callers should persist. Handler keys carry a random
// suffix, so a re-run of a completion after a failed commit uploads under
// a new key rather than overwriting the earlier object.
type Store interface {
	Put(ctx context.Context, key, sourceURL string) (string, error)
}
