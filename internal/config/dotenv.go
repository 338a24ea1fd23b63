package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file into the process environment, if
// present, before Load reads BTDT_* overrides. Grounded on the
// teacher's cmd/portsy/main.go, which calls godotenv.Overload at
// startup so local credentials never need to live in the shell.
// A missing file is not an error; callers in CI runners routinely
// have no .env at all and rely purely on real environment variables.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Overload(path)
}
