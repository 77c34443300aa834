package oracle

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/bitcoinecho/txkit/pkg/hash"
)

var rootsBucket = []byte("roots")

// CachedChainTracker decorates a ChainTracker with a durable
// (height -> root) cache, so repeated SPV verifications against the same
// ancestor chain don't re-ask the upstream tracker for headers they've
// already confirmed. Grounded on the rubin-protocol pack repo's
// node/store/db.go bucket-per-concern bbolt idiom.
type CachedChainTracker struct {
	upstream ChainTracker
	db       *bbolt.DB
	logger   *zap.Logger
}

// NewCachedChainTracker opens (creating if necessary) a bbolt database at
// path and wraps upstream with a cache backed by it. A nil logger falls
// back to zap.NewNop() (spec.md §5: the core must stay silent unless a
// caller opts in to observability).
func NewCachedChainTracker(path string, upstream ChainTracker, logger *zap.Logger) (*CachedChainTracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "oracle: open cache db")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "oracle: init cache bucket")
	}
	return &CachedChainTracker{upstream: upstream, db: db, logger: logger}, nil
}

// Close releases the underlying bbolt database.
func (c *CachedChainTracker) Close() error {
	return c.db.Close()
}

func heightKey(height uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], height)
	return k[:]
}

// IsValidRootForHeight implements ChainTracker, consulting the cache
// before falling through to the upstream tracker.
func (c *CachedChainTracker) IsValidRootForHeight(ctx context.Context, root hash.Hash256, height uint32) (bool, error) {
	var cached *hash.Hash256
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rootsBucket)
		v := b.Get(heightKey(height))
		if v == nil {
			return nil
		}
		h, err := hash.From32(v)
		if err != nil {
			return err
		}
		cached = &h
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "oracle: cache read")
	}
	if cached != nil {
		c.logger.Debug("chain tracker cache hit", zap.Uint32("height", height))
		return *cached == root, nil
	}

	c.logger.Debug("chain tracker cache miss", zap.Uint32("height", height))
	ok, err := c.upstream.IsValidRootForHeight(ctx, root, height)
	if err != nil {
		return false, err
	}
	if ok {
		writeErr := c.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(rootsBucket).Put(heightKey(height), root.Bytes())
		})
		if writeErr != nil {
			return ok, errors.Wrap(writeErr, "oracle: cache write")
		}
	}
	return ok, nil
}

// CurrentHeight implements ChainTracker, always delegating upstream since
// "best known height" is inherently live state, not cacheable fact.
func (c *CachedChainTracker) CurrentHeight(ctx context.Context) (uint32, error) {
	return c.upstream.CurrentHeight(ctx)
}
