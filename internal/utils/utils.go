// Package utils provides utility functions for the application
//
//nolint:revive // Package name 'utils' is intentional and commonly used in Go projects
package utils

import (
	"github.com/google/uuid"
)

// GenerateRandomID creates a random identifier string (UUID v4)
func GenerateRandomID() string {
	return uuid.New().String()
}

// Meta merges key/value pairs into a log metadata map, skipping empty values
func Meta(kv ...string) map[string]string {
	meta := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			meta[kv[i]] = kv[i+1]
		}
	}
	return meta
}
