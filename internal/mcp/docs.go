// ABOUTME: Human-readable catalog page rendered from the tool registry
// ABOUTME: Builds markdown per tool and converts it to HTML with goldmark

package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/octogate/octogate/internal/registry"
)

const docsPageShell = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>octogate tools</title>
<style>
body { font-family: sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; }
pre { background: #f4f4f4; padding: 0.75rem; overflow-x: auto; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; }
</style>
</head>
<body>
%s
</body>
</html>
`

// DocsHandler serves GET /docs: the tool catalog as a rendered HTML page.
type DocsHandler struct {
	registry *registry.Registry

	once sync.Once
	page []byte
	err  error
}

// NewDocsHandler creates a docs handler for the given registry. The page is
// rendered lazily on first request; the catalog is immutable so the result
// is cached.
func NewDocsHandler(reg *registry.Registry) *DocsHandler {
	return &DocsHandler{registry: reg}
}

// RegisterRoutes registers the docs page on the given mux.
func (h *DocsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/docs", h.ServeHTTP)
}

func (h *DocsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	h.once.Do(func() {
		h.page, h.err = h.render()
	})
	if h.err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(h.page)
}

func (h *DocsHandler) render() ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Table))

	var body bytes.Buffer
	if err := md.Convert([]byte(h.markdown()), &body); err != nil {
		return nil, fmt.Errorf("rendering docs page: %w", err)
	}
	return []byte(fmt.Sprintf(docsPageShell, body.String())), nil
}

// markdown builds the catalog page source: one section per tool, in wire order.
func (h *DocsHandler) markdown() string {
	var b strings.Builder

	b.WriteString("# octogate tools\n\n")
	b.WriteString("GitHub-backed tools exposed over the MCP endpoint at `POST /mcp`.\n\n")

	b.WriteString("| Tool | Required scopes |\n|---|---|\n")
	for _, d := range h.registry.List() {
		fmt.Fprintf(&b, "| `%s` | `%s` |\n", d.Name, strings.Join(d.RequiredScopes, "`, `"))
	}
	b.WriteString("\n")

	for _, d := range h.registry.List() {
		fmt.Fprintf(&b, "## %s\n\n", d.Name)
		if d.Title != "" && d.Title != d.Name {
			fmt.Fprintf(&b, "**%s**\n\n", d.Title)
		}
		if d.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", d.Description)
		}
		writeSchema(&b, "Input", d.InputSchema)
		writeSchema(&b, "Output", d.OutputSchema)
	}

	return b.String()
}

func writeSchema(b *strings.Builder, label string, schema json.RawMessage) {
	if len(schema) == 0 {
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, schema, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(schema)
	}
	fmt.Fprintf(b, "### %s schema\n\n```json\n%s\n```\n\n", label, pretty.String())
}
