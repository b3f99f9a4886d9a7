// Package imagestore keeps rendered images in object storage under
// content-addressed keys, so re-rendering an unchanged image costs one
// existence check instead of an upload.
package imagestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	DeletePrefix(ctx context.Context, prefix string) error
	PublicURL(key string) string
}

// Prefix is the folder holding every render of one area and index.
func Prefix(areaID, index string) string {
	return fmt.Sprintf("renders/%s/%s/", safe(areaID), strings.ToLower(safe(index)))
}

// Key is the content address of data under Prefix.
func Key(areaID, index string, data []byte, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s%016x%s", Prefix(areaID, index), xxhash.Sum64(data), ext)
}

// Publish uploads data unless an identical object already exists. A new
// upload first clears older renders of the same area and index; concurrent
// publishers race and the last writer wins.
func Publish(ctx context.Context, s Store, areaID, index string, data []byte, contentType, ext string) (string, error) {
	key := Key(areaID, index, data, ext)
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("image exists %q: %w", key, err)
	}
	if ok {
		return s.PublicURL(key), nil
	}
	if err := s.DeletePrefix(ctx, Prefix(areaID, index)); err != nil {
		return "", fmt.Errorf("clear %q: %w", Prefix(areaID, index), err)
	}
	if err := s.Put(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("upload %q: %w", key, err)
	}
	return s.PublicURL(key), nil
}

// safe keeps keys to one path segment. Dot-only segments such as ".."
// are rejected by object stores and become "-".
func safe(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	if strings.Trim(s, ".") == "" {
		return "-"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, s)
}
