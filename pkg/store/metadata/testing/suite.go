// Package testing provides a conformance suite for MetadataStore
// implementations. Every backend (memory, badger, postgres) runs the same
// contract checks; backend-specific behavior belongs in the backend's own
// tests.
package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// MetadataStoreTestSuite exercises the MetadataStore contract.
//
// Usage:
//
//	func TestMyMetadataStore(t *testing.T) {
//	    suite := &testing.MetadataStoreTestSuite{
//	        NewStore: func(t *testing.T) metadata.MetadataStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type MetadataStoreTestSuite struct {
	// NewStore creates a fresh store for each test, ensuring isolation.
	NewStore func(t *testing.T) metadata.MetadataStore
}

// Run executes all tests in the suite.
func (suite *MetadataStoreTestSuite) Run(t *testing.T) {
	t.Run("Namespace", suite.RunNamespaceTests)
	t.Run("Versions", suite.RunVersionTests)
	t.Run("Trash", suite.RunTrashTests)
	t.Run("ShareTokens", suite.RunShareTokenTests)
	t.Run("Quota", suite.RunQuotaTests)
}

func testContext() context.Context {
	return context.Background()
}

const testOwner = metadata.Principal("alice")

// mustRoot creates (or fetches) the test owner's root folder.
func mustRoot(t *testing.T, store metadata.MetadataStore) *metadata.Node {
	t.Helper()
	root, err := store.EnsureRoot(testContext(), testOwner)
	require.NoError(t, err)
	return root
}

// mustFolder creates a folder and fails the test on error.
func mustFolder(t *testing.T, store metadata.MetadataStore, parent *metadata.Node, name string) *metadata.Node {
	t.Helper()
	folder, err := store.CreateNode(testContext(), parent.ID, name, metadata.KindFolder, testOwner)
	require.NoError(t, err)
	return folder
}

// mustFile creates a file with one committed version.
func mustFile(t *testing.T, store metadata.MetadataStore, parent *metadata.Node, name string, data string) *metadata.Node {
	t.Helper()
	digest := metadata.ContentDigest("0000000000000000000000000000000000000000000000000000000000000000")
	file, _, err := store.CreateFileWithVersion(testContext(), parent.ID, name, testOwner, digest, uint64(len(data)), testOwner)
	require.NoError(t, err)
	return file
}

// assertCode fails unless err carries the given store error code.
func assertCode(t *testing.T, err error, code metadata.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.True(t, metadata.IsCode(err, code), "expected %s, got %v", code, err)
}
