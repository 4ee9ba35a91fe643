package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const docsBlock = `

{% docs customer_id %}
The unique key for each customer.
{% enddocs %}
`

const multipleDocsBlocks = `

{% docs customer_id %}
The unique key for each customer.
{% enddocs %}

{% docs potato_name %}
The name of the customer's favorite potato dish.
{% enddocs %}
`

func TestFindBlockRange(t *testing.T) {
	start, end, err := FindBlockRange(docsBlock, "docs", "customer_id")
	require.NoError(t, err)
	assert.Equal(t, 2, start)
	assert.Equal(t, 4, end)
}

func TestFindBlockRange_MultipleBlocks(t *testing.T) {
	start, end, err := FindBlockRange(multipleDocsBlocks, "docs", "potato_name")
	require.NoError(t, err)
	assert.Equal(t, 6, start)
	assert.Equal(t, 8, end)
}

func TestFindBlockRange_MissingBlock(t *testing.T) {
	_, _, err := FindBlockRange(docsBlock, "docs", "unknown")
	assert.Error(t, err)
}

func TestIsolateContentFromLineRange(t *testing.T) {
	content := IsolateContentFromLineRange(docsBlock, 2, 4)
	assert.Equal(t, "The unique key for each customer.", content)

	content = IsolateContentFromLineRange(multipleDocsBlocks, 6, 8)
	assert.Equal(t, "The name of the customer's favorite potato dish.", content)
}

func TestJinjaBlockFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.md")
	require.NoError(t, os.WriteFile(path, []byte(multipleDocsBlocks), 0o644))

	block, err := JinjaBlockFromFile(path, "docs", "customer_id")
	require.NoError(t, err)
	assert.Equal(t, 2, block.Start)
	assert.Equal(t, 4, block.End)
	assert.Equal(t, "The unique key for each customer.", block.Content)

	expected := "{% docs customer_id %}\nThe unique key for each customer.\n{% enddocs %}"
	assert.Equal(t, expected, block.BlockText())
}
