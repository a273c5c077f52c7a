package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/phosh-mobile/searchd/internal/search"
)

type resultOutput struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	ClipboardText string `json:"clipboard_text,omitempty"`
	Icon          string `json:"icon,omitempty"`
}

type sourceOutput struct {
	ID       string         `json:"id"`
	AppID    string         `json:"app_id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Position uint32         `json:"position"`
	Results  []resultOutput `json:"results,omitempty"`
}

func newResultOutput(m *search.ResultMeta) resultOutput {
	out := resultOutput{ID: m.ID(), Title: m.Title(), Icon: iconString(m.Icon())}
	out.Description, _ = m.Description()
	out.ClipboardText, _ = m.ClipboardText()
	return out
}

func newSourceOutput(src search.Source) sourceOutput {
	return sourceOutput{ID: src.ID, AppID: src.App.ID, Name: src.App.Name, Position: src.Position}
}

// iconString renders an icon for display: theme names, a URI or a size.
func iconString(icon search.Icon) string {
	if icon == nil {
		return ""
	}
	kind, value, err := icon.Serialize()
	if err != nil {
		return ""
	}
	switch v := value.(type) {
	case []string:
		return strings.Join(v, ",")
	case string:
		return v
	case []byte:
		return fmt.Sprintf("<%s: %d bytes>", kind, len(v))
	default:
		return kind
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resultPrinter prints results as they arrive, or collects them for a
// single JSON document when asJSON is set.
type resultPrinter struct {
	w      io.Writer
	asJSON bool
	width  int

	mu      sync.Mutex
	sources map[string]search.Source
	results map[string][]*search.ResultMeta
}

func newResultPrinter(w io.Writer, asJSON bool, width int) *resultPrinter {
	return &resultPrinter{
		w:       w,
		asJSON:  asJSON,
		width:   width,
		sources: make(map[string]search.Source),
		results: make(map[string][]*search.ResultMeta),
	}
}

func (p *resultPrinter) setSources(sources []search.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, src := range sources {
		p.sources[src.ID] = src
	}
}

// SourceResultsChanged implements searchclient.Handler.
func (p *resultPrinter) SourceResultsChanged(sourceID string, results []*search.ResultMeta) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.results[sourceID] = results
	if p.asJSON || len(results) == 0 {
		return
	}

	fmt.Fprintln(p.w, styles.source.Render(p.sourceLabel(sourceID)))
	for _, m := range results {
		line := m.Title()
		if desc, ok := m.Description(); ok && desc != "" {
			line += styles.dim.Render(": " + desc)
		}
		fmt.Fprintf(p.w, "  %s  %s\n", styles.id.Render(m.ID()), truncate(line, p.width))
	}
}

// QueryFinished implements searchclient.Handler.
func (p *resultPrinter) QueryFinished() {}

func (p *resultPrinter) sourceLabel(sourceID string) string {
	src, ok := p.sources[sourceID]
	switch {
	case !ok:
		return sourceID
	case src.App.Name != "":
		return src.App.Name + " (" + sourceID + ")"
	case src.App.ID != "":
		return src.App.ID + " (" + sourceID + ")"
	default:
		return sourceID
	}
}

// flush writes the collected JSON document, ordered by source position.
// In text mode it only reports when nothing matched.
func (p *resultPrinter) flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, r := range p.results {
		total += len(r)
	}

	if !p.asJSON {
		if total == 0 {
			fmt.Fprintln(p.w, "No results found.")
		}
		return nil
	}

	type ranked struct {
		known bool
		so    sourceOutput
	}
	var list []ranked
	for id, metas := range p.results {
		if len(metas) == 0 {
			continue
		}
		r := ranked{so: sourceOutput{ID: id}}
		if src, ok := p.sources[id]; ok {
			r = ranked{known: true, so: newSourceOutput(src)}
		}
		for _, m := range metas {
			r.so.Results = append(r.so.Results, newResultOutput(m))
		}
		list = append(list, r)
	}
	// Unknown sources go last.
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.known != b.known {
			return a.known
		}
		if a.so.Position != b.so.Position {
			return a.so.Position < b.so.Position
		}
		return a.so.ID < b.so.ID
	})

	out := make([]sourceOutput, len(list))
	for i, r := range list {
		out[i] = r.so
	}
	return writeJSON(p.w, out)
}
