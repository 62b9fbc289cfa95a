// Package docstore is a hierarchical document store addressed by slash
// separated paths, with live subscriptions and optimistic transactions.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MaxTransactAttempts bounds how often Transact re-runs its function after a
// concurrent write changed the node.
const MaxTransactAttempts = 25

var (
	ErrKeyGeneration   = errors.New("docstore: key generation returned no key")
	ErrAbort           = errors.New("docstore: transaction aborted")
	ErrTooManyRetries  = errors.New("docstore: transaction retries exhausted")
	ErrClosed          = errors.New("docstore: store closed")
	ErrInvalidPath     = errors.New("docstore: invalid path")
	ErrNotLeafDocument = errors.New("docstore: value is not a document")
)

// Document is a JSON-shaped tree. Numbers are float64 after a round trip.
type Document map[string]any

// Query orders the direct children of a snapshot. The zero value orders by key.
type Query struct {
	OrderByChild string
}

// TransactFunc receives the current value (nil when absent) and returns the
// value to commit. Returning nil deletes the node. Any error aborts without
// writing and is returned from Transact unchanged.
type TransactFunc func(current Document) (Document, error)

type Store interface {
	Get(ctx context.Context, path string, q Query) (Snapshot, error)
	Subscribe(path string, q Query, onChange func(Snapshot), onCancel func(error)) (Subscription, error)
	Set(ctx context.Context, path string, doc Document) error
	Update(ctx context.Context, path string, fields Document) error
	Delete(ctx context.Context, path string) error
	NewKey(parent string) (string, error)
	Transact(ctx context.Context, path string, fn TransactFunc) (Document, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Subscription stops delivery when closed. Close is idempotent.
type Subscription interface {
	Close()
}

type Snapshot struct {
	Path     string
	Key      string
	Value    Document
	Children []Snapshot
}

func (s Snapshot) Exists() bool {
	return s.Value != nil || len(s.Children) > 0
}

func (s Snapshot) Decode(v any) error {
	if s.Value == nil {
		return fmt.Errorf("decode %s: %w", s.Path, ErrNotLeafDocument)
	}
	return DecodeDocument(s.Value, v)
}

func Encode(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

func DecodeDocument(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Join builds a path from keys, e.g. Join("carts", uid, itemID).
func Join(keys ...string) string {
	return strings.Join(keys, "/")
}

func KeyOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func ParentOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

// ValidatePath rejects empty segments and characters that cannot appear in keys.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
		if strings.ContainsAny(seg, ".$#[]") {
			return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidPath, path)
		}
	}
	return nil
}

// related reports whether a change at one path is visible from the other.
func related(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func cloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return cloneDocument(t)
	case map[string]any:
		return map[string]any(cloneDocument(t))
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
