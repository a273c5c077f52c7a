// Package search holds the value types exchanged between the search broker,
// its providers and its clients, together with their D-Bus wire encoding.
package search

// ResultMeta is the metadata of a single search result as reported by a
// provider. It is immutable once constructed and safe to share.
type ResultMeta struct {
	id    string
	title string

	description   optionalString
	clipboardText optionalString
	icon          Icon
}

type optionalString struct {
	value string
	set   bool
}

// MetaOption sets an optional ResultMeta field.
type MetaOption func(*ResultMeta)

// WithDescription sets the result description.
func WithDescription(desc string) MetaOption {
	return func(m *ResultMeta) {
		m.description = optionalString{value: desc, set: true}
	}
}

// WithClipboardText sets the text copied to the clipboard on activation.
func WithClipboardText(text string) MetaOption {
	return func(m *ResultMeta) {
		m.clipboardText = optionalString{value: text, set: true}
	}
}

// WithIcon sets the result icon. A nil icon leaves the field absent.
func WithIcon(icon Icon) MetaOption {
	return func(m *ResultMeta) {
		m.icon = icon
	}
}

// NewResultMeta creates a result. Options that are not given stay absent,
// which is different from being set to an empty string.
func NewResultMeta(id, title string, opts ...MetaOption) *ResultMeta {
	m := &ResultMeta{id: id, title: title}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the result id. It is unique within its source only.
func (m *ResultMeta) ID() string { return m.id }

// Title returns the result title.
func (m *ResultMeta) Title() string { return m.title }

// Description returns the description and whether it is present.
func (m *ResultMeta) Description() (string, bool) {
	return m.description.value, m.description.set
}

// ClipboardText returns the clipboard text and whether it is present.
func (m *ResultMeta) ClipboardText() (string, bool) {
	return m.clipboardText.value, m.clipboardText.set
}

// Icon returns the icon, or nil when absent.
func (m *ResultMeta) Icon() Icon { return m.icon }
