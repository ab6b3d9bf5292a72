package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/NoraXie/echoid/internal/config"
)

// BucketingManager spreads partition keys with murmur3.
type BucketingManager struct {
	transactionBuckets int
	eventBuckets       int
	hasherPool         sync.Pool
}

type BucketAssignment struct {
	TransactionBucket int    `json:"transaction_bucket"`
	EventBucket       int    `json:"event_bucket"`
	DateBucket        string `json:"date_bucket"`
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		transactionBuckets: max(cfg.Bucketing.TransactionBuckets, 1),
		eventBuckets:       max(cfg.Bucketing.EventBuckets, 1),
	}

	// pooled hashers avoid an allocation per lookup
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetTransactionBucket returns the transactions partition bucket for a token (0 to transactionBuckets-1).
func (bm *BucketingManager) GetTransactionBucket(token string) int {
	return bm.getBucket(token, bm.transactionBuckets)
}

// GetEventBucket returns bucket for security events
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetDateBucket returns date bucket for events
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) GetBucketAssignment(token string, at time.Time) *BucketAssignment {
	return &BucketAssignment{
		TransactionBucket: bm.GetTransactionBucket(token),
		EventBucket:       bm.GetEventBucket(token),
		DateBucket:        bm.GetDateBucket(at),
	}
}

func (bm *BucketingManager) TransactionBuckets() int {
	return bm.transactionBuckets
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}
