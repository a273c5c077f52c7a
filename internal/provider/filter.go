package provider

import (
	"os"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/phosh-mobile/searchd/internal/search"
)

// Filter holds the user's provider selection.
type Filter struct {
	Enabled         []string
	Disabled        []string
	DisableExternal bool
}

// IsEnabled applies the selection policy to d. A provider that is disabled
// by default must be listed in Enabled; any other provider is on unless
// listed in Disabled.
func IsEnabled(d Descriptor, f Filter) bool {
	if f.DisableExternal {
		return false
	}
	if d.DefaultDisabled {
		return contains(f.Enabled, d.DesktopID)
	}
	return !contains(f.Disabled, d.DesktopID)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NewCollator returns a collator for the locale named by LC_ALL,
// LC_COLLATE or LANG. Unknown or POSIX locales use the root collation.
func NewCollator() *collate.Collator {
	return collate.New(localeTag(), collate.Loose)
}

func localeTag() language.Tag {
	for _, env := range []string{"LC_ALL", "LC_COLLATE", "LANG"} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		return parseLocale(v)
	}
	return language.Und
}

// parseLocale converts a POSIX locale such as "de_DE.UTF-8@euro" to a tag.
func parseLocale(v string) language.Tag {
	if i := strings.IndexAny(v, ".@"); i >= 0 {
		v = v[:i]
	}
	if v == "" || v == "C" || v == "POSIX" {
		return language.Und
	}
	tag, err := language.Parse(strings.ReplaceAll(v, "_", "-"))
	if err != nil {
		return language.Und
	}
	return tag
}

// SortSources orders sources in place. Sources whose desktop id is in
// sortOrder come first, in list order; the rest follow, sorted by display
// name with c. A nil collator compares names bytewise.
func SortSources(sources []search.Source, sortOrder []string, c *collate.Collator) {
	rank := make(map[string]int, len(sortOrder))
	for i, id := range sortOrder {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}

	sort.SliceStable(sources, func(i, j int) bool {
		ri, iok := rank[sources[i].App.ID]
		rj, jok := rank[sources[j].App.ID]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		}
		if c == nil {
			return sources[i].App.Name < sources[j].App.Name
		}
		return c.CompareString(sources[i].App.Name, sources[j].App.Name) < 0
	})
}
