package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
	storetesting "github.com/driftdrive/driftdrive/pkg/store/metadata/testing"
)

func TestBadgerMetadataStore(t *testing.T) {
	suite := &storetesting.MetadataStoreTestSuite{
		NewStore: func(t *testing.T) metadata.MetadataStore {
			store, err := NewBadgerMetadataStore(context.Background(), BadgerMetadataStoreConfig{
				InMemory: true,
			})
			require.NoError(t, err)
			t.Cleanup(func() {
				require.NoError(t, store.Close())
			})
			return store
		},
	}
	suite.Run(t)
}

func TestBadgerMetadataStorePersists(t *testing.T) {
	ctx := context.Background()
	dbPath := t.TempDir()
	owner := metadata.Principal("alice")

	store, err := NewBadgerMetadataStore(ctx, BadgerMetadataStoreConfig{DBPath: dbPath})
	require.NoError(t, err)

	root, err := store.EnsureRoot(ctx, owner)
	require.NoError(t, err)
	folder, err := store.CreateNode(ctx, root.ID, "docs", metadata.KindFolder, owner)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewBadgerMetadataStore(ctx, BadgerMetadataStoreConfig{DBPath: dbPath})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetNode(ctx, folder.ID)
	require.NoError(t, err)
	require.Equal(t, "docs", got.Name)
	require.Equal(t, root.ID, got.ParentID)

	resolved, err := reopened.ResolvePath(ctx, root.ID, []string{"docs"})
	require.NoError(t, err)
	require.Equal(t, folder.ID, resolved.ID)
}
