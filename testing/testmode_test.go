package testing

import (
	"os"
	stdtesting "testing"

	"github.com/stretchr/testify/require"

	"github.com/shopledger/shopledger/internal/app"
)

func TestEnsureTestModeSetsEnvironment(t *stdtesting.T) {
	EnsureTestMode()
	require.Equal(t, "1", os.Getenv("SHOPLEDGER_TEST_MODE"))
	app.RefreshTestMode()
	require.True(t, app.InTestMode())

	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.StoreDriver)
}
