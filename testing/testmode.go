// Package testing switches the process into test mode before any entrypoint
// or router code reads the environment. Import it for side effects from tests
// that exercise main packages.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

// EnsureTestMode sets SHOPLEDGER_TEST_MODE and points the store at memory so a
// stray LoadConfig never opens a file or a network connection.
func EnsureTestMode() {
	once.Do(func() {
		_ = os.Setenv("SHOPLEDGER_TEST_MODE", "1")
		if os.Getenv("STORE_DRIVER") == "" {
			_ = os.Setenv("STORE_DRIVER", "memory")
		}
		if os.Getenv("BUS_DRIVER") == "" {
			_ = os.Setenv("BUS_DRIVER", "memory")
		}
	})
}

func init() {
	EnsureTestMode()
}

func TestMain(m *stdtesting.M) {
	EnsureTestMode()
	os.Exit(m.Run())
}
