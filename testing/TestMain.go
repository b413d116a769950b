package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("MENUGUARD_TEST_MODE", "1")
		if os.Getenv("ADMIN_RESOURCE_ID") == "" {
			_ = os.Setenv("ADMIN_RESOURCE_ID", "1")
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
