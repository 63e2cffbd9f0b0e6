package memory

import (
	"testing"

	"github.com/driftdrive/driftdrive/pkg/store/content"
	storetesting "github.com/driftdrive/driftdrive/pkg/store/content/testing"
)

func TestMemoryBlobStore(t *testing.T) {
	suite := &storetesting.BlobStoreTestSuite{
		NewStore: func(t *testing.T) content.BlobStore {
			return NewMemoryBlobStore()
		},
	}
	suite.Run(t)
}
