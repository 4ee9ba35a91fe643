package storage

import (
	"fmt"
	"regexp"
	"strings"
)

// JinjaBlock is a named Jinja block found in a file, such as a docs block,
// with its line range and inner content.
type JinjaBlock struct {
	Path      string
	BlockType string
	Name      string
	Start     int
	End       int
	Content   string
}

// FindBlockRange returns the zero-indexed start and end line numbers of a
// named block's opening and closing tags.
func FindBlockRange(content, blockType, name string) (int, int, error) {
	openTag, err := regexp.Compile(`\{%\s+` + blockType + `\s+` + regexp.QuoteMeta(name) + `\s+%\}`)
	if err != nil {
		return 0, 0, err
	}
	closeTag := regexp.MustCompile(`\{%\s+end` + blockType + `\s+%\}`)

	start := -1
	for index, line := range strings.Split(content, "\n") {
		if start < 0 && openTag.MatchString(line) {
			start = index
			continue
		}
		if start >= 0 && closeTag.MatchString(line) {
			return start, index, nil
		}
	}
	return 0, 0, fmt.Errorf("unable to find a %s block named %q", blockType, name)
}

// IsolateContentFromLineRange returns the lines strictly between a block's
// opening and closing tags.
func IsolateContentFromLineRange(content string, start, end int) string {
	lines := strings.Split(content, "\n")
	if start+1 >= len(lines) || start+1 > end {
		return ""
	}
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start+1:end], "\n")
}

// JinjaBlockFromFile locates a named block within a file.
func JinjaBlockFromFile(path, blockType, name string) (*JinjaBlock, error) {
	content, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	start, end, err := FindBlockRange(content, blockType, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &JinjaBlock{
		Path:      path,
		BlockType: blockType,
		Name:      name,
		Start:     start,
		End:       end,
		Content:   IsolateContentFromLineRange(content, start, end),
	}, nil
}

// BlockText renders the full block, tags included, for writing to a file.
func (b *JinjaBlock) BlockText() string {
	return fmt.Sprintf("{%% %s %s %%}\n%s\n{%% end%s %%}", b.BlockType, b.Name, b.Content, b.BlockType)
}
