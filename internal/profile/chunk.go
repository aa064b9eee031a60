// Package profile loads the profile document and flattens it into
// retrievable content chunks.
package profile

import (
	"strconv"
	"strings"
)

// Chunk types.
const (
	TypeText         = "text"
	TypeArrayItem    = "array_item"
	TypeContentChunk = "content_chunk"
	TypeInterviewQA  = "interview_qa"
)

// Metadata keys used in vector store payloads.
const (
	KeySection  = "section"
	KeyType     = "type"
	KeyIndex    = "index"
	KeyTitle    = "title"
	KeyCategory = "category"
	KeyTags     = "tags"
	KeyQuestion = "question"
	KeyAnswer   = "answer"
	KeyContent  = "content"
)

// Chunk is one unit of retrievable text. Content is never blank.
type Chunk struct {
	ID       string
	Content  string // text that gets embedded
	Metadata Metadata
}

// Metadata describes where a chunk came from.
type Metadata struct {
	// Section is the dotted path of the source value, e.g. profile.skills.
	Section string
	Type    string
	// Index is the array position for array_item chunks.
	Index    *int
	Title    string
	Category string
	Tags     []string
	Question string
	Answer   string
	// Body is the display content returned with search results. For Q&A
	// chunks it is the answer; otherwise the raw, unenriched content.
	Body string
}

// ToMap flattens metadata into a payload of strings and ints, the common
// denominator accepted by every vector store.
func (m Metadata) ToMap() map[string]any {
	out := map[string]any{KeyType: m.Type}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put(KeySection, m.Section)
	put(KeyTitle, m.Title)
	put(KeyCategory, m.Category)
	put(KeyQuestion, m.Question)
	put(KeyAnswer, m.Answer)
	put(KeyContent, m.Body)
	if len(m.Tags) > 0 {
		out[KeyTags] = strings.Join(m.Tags, ",")
	}
	if m.Index != nil {
		out[KeyIndex] = *m.Index
	}
	return out
}

// MetadataFromMap is the inverse of ToMap. Unknown keys are ignored and
// numeric values may arrive as any Go number type.
func MetadataFromMap(in map[string]any) Metadata {
	str := func(k string) string {
		if v, ok := in[k].(string); ok {
			return v
		}
		return ""
	}
	m := Metadata{
		Section:  str(KeySection),
		Type:     str(KeyType),
		Title:    str(KeyTitle),
		Category: str(KeyCategory),
		Question: str(KeyQuestion),
		Answer:   str(KeyAnswer),
		Body:     str(KeyContent),
	}
	if tags := str(KeyTags); tags != "" {
		m.Tags = strings.Split(tags, ",")
	}
	if idx, ok := toInt(in[KeyIndex]); ok {
		m.Index = &idx
	}
	return m
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
