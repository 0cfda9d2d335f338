package storage

import (
	"context"
	"path/filepath"
	"strings"
)

// DefaultLinkPrefix is the route that serves a processed file once and deletes it.
const DefaultLinkPrefix = "/stream-and-delete/"

// LocalLinks publishes nothing: it points clients at the file on this server.
type LocalLinks struct {
	Prefix string
}

func (l LocalLinks) Publish(_ context.Context, localPath string) (string, error) {
	prefix := l.Prefix
	if prefix == "" {
		prefix = DefaultLinkPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + filepath.Base(localPath), nil
}
