package profile

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Document is the immutable profile loaded once per process.
type Document struct {
	raw gjson.Result
}

// Load reads and validates the profile document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return doc, nil
}

// Parse validates data and wraps it. A leading UTF-8 BOM is ignored.
func Parse(data []byte) (*Document, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return &Document{}, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidDocument
	}
	return &Document{raw: gjson.ParseBytes(data)}, nil
}

// Chunks returns the indexing plan for the document.
//
// When the document carries pre-chunked content_chunks records (at the root
// or under knowledge_base) those are used with their own ids, and each text
// is enriched as "<title>: <content>". Otherwise the whole document is
// flattened as in Extract. Interview Q&A pairs are appended in both cases
// with ids qa_<category>_<n>.
func (d *Document) Chunks() []Chunk {
	if !d.raw.Exists() {
		return nil
	}

	var out []Chunk
	if explicit := d.contentChunks(); len(explicit) > 0 {
		out = explicit
	} else {
		hasQA := d.raw.Get("interview_qa.categories").IsObject()
		skip := func(path string) bool {
			return hasQA && path == RootPrefix+".interview_qa"
		}
		walk(d.raw, RootPrefix, skip, &out)
		for i := range out {
			out[i].ID = "chunk_" + strconv.Itoa(i)
		}
	}

	out = append(out, d.interviewQA()...)
	return dedupeIDs(out)
}

func (d *Document) contentChunks() []Chunk {
	list := d.raw.Get("content_chunks")
	if !list.IsArray() || len(list.Array()) == 0 {
		list = d.raw.Get("knowledge_base.content_chunks")
	}
	if !list.IsArray() {
		return nil
	}

	var out []Chunk
	for i, c := range list.Array() {
		content := c.Get("content").String()
		if strings.TrimSpace(content) == "" {
			continue
		}
		title := c.Get("title").String()
		id := c.Get("id").String()
		if id == "" {
			id = "chunk_" + strconv.Itoa(i)
		}
		chunkType := c.Get("type").String()
		if chunkType == "" {
			chunkType = TypeContentChunk
		}

		var tags []string
		for _, t := range c.Get("metadata.tags").Array() {
			if s := strings.TrimSpace(t.String()); s != "" {
				tags = append(tags, s)
			}
		}

		text := content
		if title != "" {
			text = title + ": " + content
		}

		out = append(out, Chunk{
			ID:      id,
			Content: text,
			Metadata: Metadata{
				Section:  fmt.Sprintf("%s.content_chunks[%d]", RootPrefix, i),
				Type:     chunkType,
				Title:    title,
				Category: c.Get("metadata.category").String(),
				Tags:     tags,
				Body:     content,
			},
		})
	}
	return out
}

func (d *Document) interviewQA() []Chunk {
	categories := d.raw.Get("interview_qa.categories")
	if !categories.IsObject() {
		return nil
	}

	var out []Chunk
	n := 0
	categories.ForEach(func(key, pairs gjson.Result) bool {
		category := key.String()
		for i, qa := range pairs.Array() {
			question := strings.TrimSpace(qa.Get("question").String())
			answer := strings.TrimSpace(qa.Get("answer").String())
			if question == "" || answer == "" {
				continue
			}
			out = append(out, Chunk{
				ID:      fmt.Sprintf("qa_%s_%d", category, n),
				Content: "Interview Question: " + question + "\n\nAnswer: " + answer,
				Metadata: Metadata{
					Section:  fmt.Sprintf("%s.interview_qa.categories.%s[%d]", RootPrefix, category, i),
					Type:     TypeInterviewQA,
					Title:    "Q&A: " + truncateRunes(question, 50),
					Category: category,
					Tags:     []string{"interview", "qa", category},
					Question: question,
					Answer:   answer,
					Body:     answer,
				},
			})
			n++
		}
		return true
	})
	return out
}

// dedupeIDs suffixes repeated ids so every id is unique within a load.
func dedupeIDs(chunks []Chunk) []Chunk {
	seen := make(map[string]int, len(chunks))
	for i := range chunks {
		id := chunks[i].ID
		if n, ok := seen[id]; ok {
			seen[id] = n + 1
			chunks[i].ID = fmt.Sprintf("%s_%d", id, n+1)
			continue
		}
		seen[id] = 0
	}
	return chunks
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
