// Package guard is blank-imported by binary tests. It enables test mode and
// points the store and code sequence at the in-memory implementations unless
// the environment already chose otherwise.
package guard

import "os"

var defaults = map[string]string{
	"STOCKROOM_TEST_MODE": "1",
	"STORE_DRIVER":        "memory",
	"CODE_SEQUENCE":       "memory",
}

func init() {
	for key, value := range defaults {
		if _, set := os.LookupEnv(key); !set {
			_ = os.Setenv(key, value)
		}
	}
}
