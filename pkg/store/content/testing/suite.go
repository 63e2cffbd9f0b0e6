// Package testing provides a conformance suite for BlobStore
// implementations. It tests the interface contract, not implementation
// details, so every backend (memory, filesystem, S3) runs the same checks.
package testing

import (
	"context"
	"testing"

	"github.com/driftdrive/driftdrive/pkg/store/content"
)

// BlobStoreTestSuite exercises the BlobStore contract.
//
// Usage:
//
//	func TestMyBlobStore(t *testing.T) {
//	    suite := &testing.BlobStoreTestSuite{
//	        NewStore: func(t *testing.T) content.BlobStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type BlobStoreTestSuite struct {
	// NewStore creates a fresh store for each test, ensuring isolation.
	// The testing.T is available for t.TempDir and cleanup registration.
	NewStore func(t *testing.T) content.BlobStore
}

// Run executes all tests in the suite.
func (suite *BlobStoreTestSuite) Run(t *testing.T) {
	t.Run("Blobs", suite.RunBlobTests)
	t.Run("RefCounts", suite.RunRefCountTests)
	t.Run("Sweep", suite.RunSweepTests)
}

func testContext() context.Context {
	return context.Background()
}
