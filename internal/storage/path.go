package storage

import (
	"path"
	"strings"
)

// PathConfig controls how content hashes are sharded into key prefixes.
type PathConfig struct {
	// Prefix is prepended to every key, e.g. "images".
	Prefix string

	// ShardLevels is the number of directory levels for sharding.
	// Default: 2 (e.g., images/ab/cd/abcdef...)
	ShardLevels int

	// ShardWidth is the number of characters per shard level.
	ShardWidth int
}

// DefaultPathConfig returns the default key layout under prefix.
func DefaultPathConfig(prefix string) PathConfig {
	return PathConfig{
		Prefix:      prefix,
		ShardLevels: 2,
		ShardWidth:  2,
	}
}

// ComputeKey builds the object key for a content hash and file extension.
//
//	hash: "abcdef1234567890...", ext: ".png"
//	result: "images/ab/cd/abcdef1234567890....png"
func ComputeKey(config PathConfig, contentHash, ext string) string {
	components := make([]string, 0, config.ShardLevels+2)
	if config.Prefix != "" {
		components = append(components, config.Prefix)
	}
	components = append(components, ShardDirs(config, contentHash)...)
	components = append(components, contentHash+ext)
	return path.Join(components...)
}

// ShardDirs returns the shard directory components for a hash.
// Hashes shorter than the shard width yield no shards.
func ShardDirs(config PathConfig, contentHash string) []string {
	if len(contentHash) < config.ShardLevels*config.ShardWidth {
		return nil
	}

	dirs := make([]string, config.ShardLevels)
	offset := 0
	for i := 0; i < config.ShardLevels; i++ {
		dirs[i] = contentHash[offset : offset+config.ShardWidth]
		offset += config.ShardWidth
	}
	return dirs
}

// ValidateKey rejects keys that could escape the storage root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}
