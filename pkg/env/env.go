package env

import "os"

// Get reads an environment variable, treating empty values as unset.
func Get(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
