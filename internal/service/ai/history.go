package ai

import (
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
)

const frontMatterFence = "---"

// PageHeader is the metadata block prepended to every page sent upstream, so
// the model sees who wrote each turn, its id and when it happened.
type PageHeader struct {
	PageID    int64     `yaml:"PAGE_ID"`
	Type      string    `yaml:"TYPE"`
	Author    string    `yaml:"AUTHOR"`
	Rank      *float64  `yaml:"RANK,omitempty"`
	Timestamp time.Time `yaml:"TIMESTAMP"`
}

// FormatPage renders a page as YAML front matter followed by its content.
func FormatPage(page ledger.Page) (string, error) {
	header := PageHeader{
		PageID:    page.PageID,
		Type:      string(page.Type),
		Author:    page.Who,
		Rank:      page.Rank,
		Timestamp: page.TimeStart.UTC(),
	}
	meta, err := yaml.Marshal(header)
	if err != nil {
		return "", errors.Wrapf(err, "encode header of page %d", page.PageID)
	}

	var b strings.Builder
	b.WriteString(frontMatterFence)
	b.WriteByte('\n')
	b.Write(meta)
	b.WriteString(frontMatterFence)
	b.WriteByte('\n')
	b.WriteString(page.Content)
	return b.String(), nil
}

// ParsePage splits a rendered page back into its header and content.
func ParsePage(text string) (PageHeader, string, error) {
	var header PageHeader
	if !strings.HasPrefix(text, frontMatterFence+"\n") {
		return header, "", errors.New("missing front matter")
	}
	rest := text[len(frontMatterFence)+1:]
	end := strings.Index(rest, "\n"+frontMatterFence+"\n")
	if end < 0 {
		return header, "", errors.New("unterminated front matter")
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &header); err != nil {
		return header, "", errors.Wrap(err, "decode front matter")
	}
	return header, rest[end+len(frontMatterFence)+2:], nil
}

// BuildHistory maps committed pages onto chat messages: INVOKE pages become
// user turns and RESPONSE pages assistant turns. Drafts are skipped.
func BuildHistory(pages []ledger.Page) ([]*schema.Message, error) {
	history := make([]*schema.Message, 0, len(pages))
	for _, page := range pages {
		if page.Draft() {
			continue
		}
		text, err := FormatPage(page)
		if err != nil {
			return nil, err
		}
		switch page.Type {
		case ledger.PageInvoke:
			history = append(history, schema.UserMessage(text))
		case ledger.PageResponse:
			history = append(history, schema.AssistantMessage(text, nil))
		}
	}
	return history, nil
}
