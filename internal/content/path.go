package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// A patch path addresses one editable unit inside a body, e.g.
// "centers[2].projects[0].expenses[1].cost". Paths are the coalescing key
// for auto-save and the unit of the field-level write discipline: a patch
// touches exactly the addressed node and nothing else.

type segment struct {
	name    string
	indexes []int
}

func parsePath(path string) ([]segment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty patch path")
	}
	parts := strings.Split(path, ".")
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		name := part
		var indexes []int
		for {
			open := strings.IndexByte(name, '[')
			if open < 0 {
				break
			}
			closing := strings.IndexByte(name[open:], ']')
			if closing < 0 {
				return nil, fmt.Errorf("unterminated index in path segment %q", part)
			}
			index, err := strconv.Atoi(name[open+1 : open+closing])
			if err != nil || index < 0 {
				return nil, fmt.Errorf("invalid index in path segment %q", part)
			}
			indexes = append(indexes, index)
			name = name[:open] + name[open+closing+1:]
		}
		if name == "" {
			return nil, fmt.Errorf("missing field name in path segment %q", part)
		}
		segments = append(segments, segment{name: name, indexes: indexes})
	}
	return segments, nil
}

// ApplyPatch sets the node addressed by path to value and returns the
// rewritten body. Numbers round-trip as json.Number so decimal amounts are
// not disturbed by the rewrite.
func ApplyPatch(raw json.RawMessage, path string, value json.RawMessage) (json.RawMessage, error) {
	segments, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	root, err := decodeTree(raw)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	patchValue, err := decodeTree(value)
	if err != nil {
		return nil, fmt.Errorf("decode patch value: %w", err)
	}

	var current any = root
	for si, seg := range segments {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q: segment %q is not an object", path, seg.name)
		}
		last := si == len(segments)-1
		if last && len(seg.indexes) == 0 {
			object[seg.name] = patchValue
			break
		}
		next, exists := object[seg.name]
		if !exists {
			return nil, fmt.Errorf("path %q: field %q not found", path, seg.name)
		}
		for ii, index := range seg.indexes {
			list, ok := next.([]any)
			if !ok {
				return nil, fmt.Errorf("path %q: field %q is not an array", path, seg.name)
			}
			if index >= len(list) {
				return nil, fmt.Errorf("path %q: index %d out of range for %q", path, index, seg.name)
			}
			if last && ii == len(seg.indexes)-1 {
				list[index] = patchValue
				break
			}
			next = list[index]
		}
		current = next
	}

	rewritten, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("marshal patched content: %w", err)
	}
	return rewritten, nil
}

func decodeTree(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var tree any
	if err := decoder.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}
