package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
)

// envelopeDepth bounds how many `data` wrappers are peeled off a list
// payload: bare, {data: [...]} and {data: {data: [...]}}.
const envelopeDepth = 2

// FetchList GETs path and returns its rows. The result is never nil: on any
// failure or unrecognized payload shape it is empty, and the error (if any)
// is only for reporting.
func FetchList[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, path, query, &raw); err != nil {
		return []T{}, err
	}
	return DecodeList[T](raw)
}

// DecodeList unwraps a list payload.
func DecodeList[T any](data []byte) ([]T, error) {
	list, ok := unwrapList(data, envelopeDepth)
	if !ok {
		return []T{}, nil
	}
	var out []T
	if err := json.Unmarshal(list, &out); err != nil {
		return []T{}, &Error{Kind: KindDecode, Err: err}
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// FetchObject GETs path and decodes either `{data: {...}}` or a bare object.
func FetchObject[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, path, query, &raw); err != nil {
		var zero T
		return zero, err
	}
	return DecodeObject[T](raw)
}

// DecodeObject unwraps a single `data` object when present.
func DecodeObject[T any](data []byte) (T, error) {
	var out T
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return out, nil
	}
	if trimmed[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err == nil {
			inner := bytes.TrimSpace(env.Data)
			if len(inner) > 0 && inner[0] == '{' {
				trimmed = inner
			}
		}
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return out, &Error{Kind: KindDecode, Err: err}
	}
	return out, nil
}

func unwrapList(data []byte, depth int) (json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false
	}
	switch trimmed[0] {
	case '[':
		return trimmed, true
	case '{':
		if depth == 0 {
			return nil, false
		}
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil || len(env.Data) == 0 {
			return nil, false
		}
		return unwrapList(env.Data, depth-1)
	default:
		return nil, false
	}
}
