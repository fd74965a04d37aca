package parse

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

func ms(s string) int64 {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UnixMilli()
}

func TestDecode_URLSet(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/x</loc><lastmod>2024-01-15T10:00:00Z</lastmod></url>
  <url><loc> https://example.com/y </loc></url>
</urlset>`

	nodes, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, "https://example.com/x", nodes[0].Location)
	assert.Equal(t, ms("2024-01-15T10:00:00Z"), nodes[0].LastModified)
	assert.Equal(t, models.NodeLeaf, nodes[0].Kind)

	assert.Equal(t, "https://example.com/y", nodes[1].Location)
	assert.Equal(t, int64(0), nodes[1].LastModified, "missing lastmod defaults to 0")
}

func TestDecode_SitemapIndexKeepsDocumentOrder(t *testing.T) {
	doc := `<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/b/sitemap.xml</loc><lastmod>2024-03-01</lastmod></sitemap>
  <sitemap><loc>https://example.com/a/sitemap.xml</loc><lastmod>2024-02-01</lastmod></sitemap>
</sitemapindex>`

	nodes, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, "https://example.com/b/sitemap.xml", nodes[0].Location)
	assert.True(t, nodes[0].IsChildSitemap())
	assert.Equal(t, "https://example.com/a/sitemap.xml", nodes[1].Location)
	assert.Greater(t, nodes[0].LastModified, nodes[1].LastModified)
}

func TestDecode_ClassificationBySuffixOnly(t *testing.T) {
	// A <url> whose loc ends in sitemap.xml is still routed as a child sitemap,
	// and a <sitemap> whose loc does not is routed as a leaf.
	doc := `<urlset>
  <url><loc>https://example.com/nested/sitemap.xml</loc></url>
  <url><loc>https://example.com/sitemap.xml.gz</loc></url>
  <url><loc>https://example.com/page</loc></url>
</urlset>`

	nodes, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, models.NodeChildSitemap, nodes[0].Kind)
	assert.Equal(t, models.NodeLeaf, nodes[1].Kind)
	assert.Equal(t, models.NodeLeaf, nodes[2].Kind)

	index := `<sitemapindex><sitemap><loc>https://example.com/posts.xml</loc></sitemap></sitemapindex>`
	nodes, err = Decode([]byte(index))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, models.NodeLeaf, nodes[0].Kind)
}

func TestDecode_DegenerateRoot(t *testing.T) {
	doc := `<result>
  <item><loc>https://example.com/one</loc><lastmod>2024-01-01</lastmod></item>
  <item><loc>https://example.com/two/sitemap.xml</loc></item>
</result>`

	nodes, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, models.NodeLeaf, nodes[0].Kind)
	assert.Equal(t, models.NodeChildSitemap, nodes[1].Kind)
}

func TestDecode_EmptyContainers(t *testing.T) {
	for _, doc := range []string{`<urlset></urlset>`, `<sitemapindex/>`} {
		nodes, err := Decode([]byte(doc))
		require.NoError(t, err, doc)
		assert.Empty(t, nodes, doc)
	}
}

func TestDecode_SkipsEmptyLocAndForeignChildren(t *testing.T) {
	doc := `<urlset>
  <url><loc></loc></url>
  <note><loc>https://example.com/ignored</loc></note>
  <url><loc>https://example.com/kept</loc></url>
</urlset>`

	nodes, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "https://example.com/kept", nodes[0].Location)
}

func TestDecode_BadTimestampDoesNotFailDocument(t *testing.T) {
	doc := `<urlset>
  <url><loc>https://example.com/a</loc><lastmod>yesterday-ish</lastmod></url>
  <url><loc>https://example.com/b</loc><lastmod>2024-01-02</lastmod></url>
</urlset>`

	nodes, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, int64(0), nodes[0].LastModified)
	assert.NotZero(t, nodes[1].LastModified)
}

func TestDecode_CanonicalisesLocations(t *testing.T) {
	doc := `<urlset><url><loc>HTTPS://Example.COM:443/a/../b#top</loc></url></urlset>`

	nodes, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "https://example.com/b", nodes[0].Location)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"UnclosedTag", `<urlset><url><loc>https://example.com/x</loc></url>`},
		{"UnclosedChild", `<urlset><url><loc>https://example.com/x</url></urlset>`},
		{"MismatchedTags", `<urlset><url></sitemap></urlset>`},
		{"Empty", ``},
		{"WhitespaceOnly", "  \n "},
		{"NotXML", `this is plain text`},
		{"UnknownRootWithoutLoc", `<html><body><p>hello</p></body></html>`},
		{"SecondRoot", `<urlset></urlset><urlset></urlset>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := Decode([]byte(tt.doc))
			require.Error(t, err)
			assert.Nil(t, nodes)

			var malformed *utils.MalformedDocumentError
			assert.True(t, errors.As(err, &malformed), "want MalformedDocumentError, got %T", err)
			assert.True(t, errors.Is(err, utils.ErrMalformedDocument))
		})
	}
}

func TestDecode_Latin1Declaration(t *testing.T) {
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n<urlset><url><loc>https://example.com/caf\xe9</loc></url></urlset>"

	nodes, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Contains(t, nodes[0].Location, "https://example.com/caf")
}

func TestIsChildSitemap(t *testing.T) {
	assert.True(t, IsChildSitemap("https://example.com/sitemap.xml"))
	assert.True(t, IsChildSitemap("https://example.com/news-sitemap.xml"))
	assert.False(t, IsChildSitemap("https://example.com/sitemap.xml?page=2"))
	assert.False(t, IsChildSitemap("https://example.com/Sitemap.XML"))
}
