package migration

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmbeddedMigrationsAreSequentialAndReversible(t *testing.T) {
	source, err := openSource()
	require.NoError(t, err)
	defer source.Close()

	version, err := source.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), version)

	count := 0
	for {
		count++
		up, _, err := source.ReadUp(version)
		require.NoError(t, err, "up migration %d", version)
		up.Close()

		down, _, err := source.ReadDown(version)
		require.NoError(t, err, "down migration %d", version)
		down.Close()

		next, err := source.Next(version)
		if err != nil {
			require.ErrorIs(t, err, os.ErrNotExist)
			break
		}
		require.Equal(t, version+1, next)
		version = next
	}
	require.Equal(t, 6, count)
}

func TestApplyRequiresHandle(t *testing.T) {
	require.ErrorIs(t, Apply(nil, zap.NewNop()), errNoHandle)
}
