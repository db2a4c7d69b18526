package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("CONGREGATE_TEST_MODE", "1")
		if os.Getenv("IDENTITY_JWT_SECRET") == "" {
			_ = os.Setenv("IDENTITY_JWT_SECRET", "test-jwt-secret")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
