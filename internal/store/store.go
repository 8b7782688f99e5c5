package store

// Store is a bucketed key-value store. The server keeps player records in
// it; bbolt backs it in production.
type Store interface {
	Get(bucket, key []byte) ([]byte, error)
	// Update replaces the value under key with fn(old) in one transaction.
	// old is nil when the key is absent and must not be retained.
	Update(bucket, key []byte, fn func(old []byte) ([]byte, error)) error
	Delete(bucket, key []byte) error
	ForEach(bucket []byte, fn func(key, value []byte) error) error
	Close() error
}
