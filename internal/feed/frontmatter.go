// Package feed renders verified posts of a topic as an Atom feed. Post
// bodies are markdown documents with an optional YAML front matter block.
package feed

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const frontMatterDelimiter = "---"

// FrontMatter is the metadata block at the head of a post body.
type FrontMatter struct {
	Title     string `yaml:"title"`
	Author    string `yaml:"author"`
	Published string `yaml:"published"`
}

// PublishedAt parses the published field; the zero time means absent or
// unparseable.
func (f FrontMatter) PublishedAt() time.Time {
	if f.Published == "" {
		return time.Time{}
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, f.Published); err == nil {
			return ts
		}
	}

	return time.Time{}
}

// ParseFrontMatter splits a post body into its front matter and content. A
// body without a front matter block, or with one that does not parse, comes
// back unchanged with empty metadata.
func ParseFrontMatter(content string) (FrontMatter, string) {
	var meta FrontMatter

	rest, ok := strings.CutPrefix(content, frontMatterDelimiter+"\n")
	if !ok {
		return meta, content
	}

	head, body, ok := strings.Cut(rest, "\n"+frontMatterDelimiter)
	if !ok {
		return meta, content
	}

	if err := yaml.Unmarshal([]byte(head), &meta); err != nil {
		return FrontMatter{}, content
	}

	return meta, strings.TrimPrefix(strings.TrimPrefix(body, "\n"), "\n")
}
