// Package testing puts binaries and config loading into test mode when imported by a
// test package.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

var testDefaults = map[string]string{
	"ANFRAGE_TEST_MODE": "1",
	"STORE_DRIVER":      "memory",
	"SESSION_SECRET":    "test-session-secret",
	"CSRF_SECRET":       "test-csrf-secret",
	"GOTENBERG_URL":     "http://127.0.0.1:0",
}

func ensureTestMode() {
	once.Do(func() {
		for key, value := range testDefaults {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
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
