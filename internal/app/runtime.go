package app

import (
	"os"
	"sync"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

// InTestMode reports whether the server and worker binaries should start
// without their database and queue dependencies. The flag is read once.
var InTestMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})
