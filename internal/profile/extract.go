package profile

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// RootPrefix is the section path of the document root.
const RootPrefix = "profile"

// ErrInvalidDocument is returned for input that is not valid JSON.
var ErrInvalidDocument = errors.New("invalid profile document")

// Extract flattens a JSON document into chunks with ids chunk_0..chunk_n.
//
// The walk is depth-first in document order. A non-blank string at path p
// yields a text chunk. Inside an array, string elements yield array_item
// chunks carrying their index and nested values recurse with p[i]. Object
// keys recurse with p.key. Numbers, booleans and null are skipped. Repeated
// content produces repeated chunks.
//
// Empty input yields no chunks and no error.
func Extract(doc []byte) ([]Chunk, error) {
	doc = bytes.TrimSpace(doc)
	if len(doc) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(doc) {
		return nil, ErrInvalidDocument
	}

	var out []Chunk
	walk(gjson.ParseBytes(doc), RootPrefix, nil, &out)
	for i := range out {
		out[i].ID = "chunk_" + strconv.Itoa(i)
	}
	return out, nil
}

// walk appends chunks for v. skip, when non-nil, prunes subtrees by path.
func walk(v gjson.Result, path string, skip func(string) bool, out *[]Chunk) {
	if skip != nil && skip(path) {
		return
	}

	switch {
	case v.Type == gjson.String:
		if strings.TrimSpace(v.Str) != "" {
			*out = append(*out, Chunk{
				Content:  v.Str,
				Metadata: Metadata{Section: path, Type: TypeText, Body: v.Str},
			})
		}

	case v.IsArray():
		i := 0
		v.ForEach(func(_, item gjson.Result) bool {
			switch {
			case item.Type == gjson.String:
				if strings.TrimSpace(item.Str) != "" {
					idx := i
					*out = append(*out, Chunk{
						Content:  item.Str,
						Metadata: Metadata{Section: path, Type: TypeArrayItem, Index: &idx, Body: item.Str},
					})
				}
			case item.IsObject(), item.IsArray():
				walk(item, fmt.Sprintf("%s[%d]", path, i), skip, out)
			}
			i++
			return true
		})

	case v.IsObject():
		v.ForEach(func(key, value gjson.Result) bool {
			walk(value, path+"."+key.String(), skip, out)
			return true
		})
	}
}
