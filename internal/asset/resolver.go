package asset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ErrNoAssetID indicates no asset id was resolvable from the request, the
// override file, or the static default. Resolvable only by operator action.
var ErrNoAssetID = errors.New("no asset id resolvable from request, override file, or static default")

// Resolver resolves the document/context identifier the RAG backend needs.
// Precedence, first non-empty wins: request override, override file
// contents, static default.
type Resolver struct {
	filePath      string
	staticDefault string
}

// NewResolver constructs a resolver over the configured sources. Either
// source may be empty.
func NewResolver(filePath, staticDefault string) *Resolver {
	return &Resolver{
		filePath:      filePath,
		staticDefault: staticDefault,
	}
}

// Resolve returns the effective asset id for one request. The override file
// is re-read on every call: operators swap its contents between requests as
// an operational signal, so a cached value here would be a stale answer.
func (r *Resolver) Resolve(requestOverride string) (string, error) {
	if v := strings.TrimSpace(requestOverride); v != "" {
		return v, nil
	}

	if r.filePath != "" {
		data, err := os.ReadFile(r.filePath)
		switch {
		case err == nil:
			if v := strings.TrimSpace(string(data)); v != "" {
				return v, nil
			}
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("read asset id file %q: %w", r.filePath, err)
		}
	}

	if v := strings.TrimSpace(r.staticDefault); v != "" {
		return v, nil
	}

	return "", ErrNoAssetID
}
