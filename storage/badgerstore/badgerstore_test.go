package badgerstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kavindyakdn/smart-home-energy-monitor/storage"
	"github.com/kavindyakdn/smart-home-energy-monitor/storage/badgerstore"
	"github.com/kavindyakdn/smart-home-energy-monitor/storage/storetest"
)

func newStore(t *testing.T) storage.Store {
	s, err := badgerstore.New(badgerstore.Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, newStore)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := badgerstore.New(badgerstore.Config{})
	require.Error(t, err)
}
