package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether AGROSENSE_ENV selects development mode, where a
// plain-http backend and in-memory session storage are accepted.
func IsDev() bool {
	env := strings.ToLower(os.Getenv("AGROSENSE_ENV"))
	return env == "development" || env == "dev"
}
