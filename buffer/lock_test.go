package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryLockLockUnlock(t *testing.T) {
	lock, err := newAdvisoryLock(t.TempDir() + "/inst.lock")
	require.NoError(t, err)
	defer lock.Close()

	require.NoError(t, lock.Lock())
	require.NoError(t, lock.Unlock())
}

func TestLockPathIsStablePerKey(t *testing.T) {
	a := Key{Kind: KindFile, PackageID: "org.tizen.clock", InstanceID: "file:///tmp/a.png"}
	b := Key{Kind: KindFile, PackageID: "org.tizen.clock", InstanceID: "file:///tmp/b.png"}

	assert.Equal(t, lockPath(a), lockPath(a))
	assert.NotEqual(t, lockPath(a), lockPath(b))
}
