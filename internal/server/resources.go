package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"unicode/utf8"

	"github.com/basket/rwm/internal/artifacts"
	"github.com/basket/rwm/internal/store"
)

// binaryThreshold is the number of UTF-8 replacement characters above which
// a resource body is returned base64-encoded instead of as text.
const binaryThreshold = 5

func (s *Server) handleResourceRead(ctx context.Context, params json.RawMessage) (*Result, *Error) {
	var in struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, validationError(err.Error())
	}

	var data []byte
	switch {
	case strings.HasPrefix(in.URI, store.BodyURIPrefix):
		hash := strings.TrimPrefix(in.URI, store.BodyURIPrefix)
		body, err := s.engine.Pool().ReadBody(hash)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, &Error{Kind: KindNotFound, Message: fmt.Sprintf("no body for %s", in.URI)}
			}
			return nil, classify(err)
		}
		data = body

	case strings.HasPrefix(in.URI, artifacts.WorkspaceURIPrefix):
		rel := strings.TrimPrefix(in.URI, artifacts.WorkspaceURIPrefix)
		body, err := s.ws.Read(rel)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, &Error{Kind: KindNotFound, Message: fmt.Sprintf("no file for %s", in.URI)}
			}
			return nil, classify(err)
		}
		data = body

	default:
		return nil, validationError(fmt.Sprintf("unsupported resource scheme in %q", in.URI))
	}

	if replacementCount(data) < binaryThreshold {
		return &Result{
			Text: string(data),
			Structured: map[string]any{
				"uri":      in.URI,
				"encoding": "utf-8",
				"size":     len(data),
			},
		}, nil
	}
	return &Result{
		Text: base64.StdEncoding.EncodeToString(data),
		Structured: map[string]any{
			"uri":      in.URI,
			"encoding": "base64",
			"size":     len(data),
		},
	}, nil
}

// replacementCount counts invalid UTF-8 byte positions in data.
func replacementCount(data []byte) int {
	count := 0
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			count++
		}
		data = data[size:]
	}
	return count
}
