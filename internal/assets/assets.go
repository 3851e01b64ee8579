// ABOUTME: Embedded static content served by the gateway
// ABOUTME: Renders the index page from markdown and exposes the example agent character

package assets

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed index.md
var indexMarkdown []byte

//go:embed eliza.character.json
var exampleCharacter []byte

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>agentgate</title>
</head>
<body>
%s</body>
</html>
`

var renderIndex = sync.OnceValues(func() ([]byte, error) {
	return RenderPage(indexMarkdown)
})

// IndexHTML returns the rendered index page. Rendering happens once.
func IndexHTML() ([]byte, error) {
	return renderIndex()
}

// RenderPage converts markdown into a standalone HTML page.
func RenderPage(md []byte) ([]byte, error) {
	converter := goldmark.New(goldmark.WithExtensions(extension.GFM))

	var body bytes.Buffer
	if err := converter.Convert(md, &body); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}
	return fmt.Appendf(nil, pageTemplate, body.String()), nil
}

// ExampleCharacter returns a copy of the example agent character JSON.
func ExampleCharacter() []byte {
	return bytes.Clone(exampleCharacter)
}
