package parse

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

const (
	rootURLSet       = "urlset"
	rootSitemapIndex = "sitemapindex"

	// ChildSitemapSuffix routes a node to recursive expansion
	ChildSitemapSuffix = "sitemap.xml"
)

// xmlLocElement is the shared shape of <url> and <sitemap> children
type xmlLocElement struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// Decode parses a sitemap document into nodes, in document order.
// Accepts <urlset>, <sitemapindex>, or any other root whose direct children carry <loc>.
func Decode(data []byte) ([]models.Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	var (
		root       string
		rootClosed bool
		sawLoc     bool
		nodes      []models.Node
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &utils.MalformedDocumentError{Reason: "invalid XML", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if rootClosed {
				return nil, &utils.MalformedDocumentError{Reason: fmt.Sprintf("element <%s> after document root", t.Name.Local)}
			}
			if root == "" {
				root = t.Name.Local
				continue
			}

			// Direct child of the root; DecodeElement consumes it whole
			var el xmlLocElement
			if err := dec.DecodeElement(&el, &t); err != nil {
				return nil, &utils.MalformedDocumentError{Reason: fmt.Sprintf("invalid <%s> element", t.Name.Local), Err: err}
			}
			if !acceptsChild(root, t.Name.Local) {
				continue
			}
			loc := CanonicalLocation(el.Loc)
			if loc == "" {
				continue
			}
			sawLoc = true
			nodes = append(nodes, newNode(loc, el.LastMod))
		case xml.EndElement:
			if t.Name.Local == root {
				rootClosed = true
			}
		}
	}

	if root == "" {
		return nil, &utils.MalformedDocumentError{Reason: "no root element"}
	}
	if root != rootURLSet && root != rootSitemapIndex && !sawLoc {
		return nil, &utils.MalformedDocumentError{Reason: fmt.Sprintf("root <%s> is neither urlset nor sitemapindex", root)}
	}
	return nodes, nil
}

// acceptsChild reports whether an element under root is a sitemap node
func acceptsChild(root, child string) bool {
	switch root {
	case rootURLSet:
		return child == "url"
	case rootSitemapIndex:
		return child == "sitemap"
	}
	return true
}

func newNode(loc, lastMod string) models.Node {
	kind := models.NodeLeaf
	if IsChildSitemap(loc) {
		kind = models.NodeChildSitemap
	}
	return models.Node{
		Location:     loc,
		LastModified: ParseLastMod(lastMod),
		Kind:         kind,
	}
}

// IsChildSitemap applies the naming convention that marks a nested sitemap document
func IsChildSitemap(loc string) bool {
	return strings.HasSuffix(loc, ChildSitemapSuffix)
}
