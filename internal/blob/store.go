package blob

import "errors"

// ErrNotExist is returned by Get when no object is stored under a key.
var ErrNotExist = errors.New("blob: object does not exist")

// Store is the narrow contract the pipeline has with object storage.
// Keys are slash-separated, the same shape an S3 bucket would use.
type Store interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
	Exists(key string) (bool, error)
	// List returns all keys under prefix, sorted by key.
	List(prefix string) ([]string, error)
}
