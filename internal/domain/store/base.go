package store

import "errors"

// GetCallStore constructs the configured persistence backend.
func GetCallStore(provider string) (CallStore, error) {
	switch provider {
	case "redis":
		return NewRedisStore()
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, errors.New("invalid store provider: " + provider)
	}
}
