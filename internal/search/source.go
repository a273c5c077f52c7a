package search

import "fmt"

// AppInfo identifies the application behind a search provider.
type AppInfo struct {
	// ID is the desktop id, e.g. "org.gnome.Contacts.desktop".
	ID   string
	Name string
	// Icon may be nil.
	Icon Icon
}

// Source is the display-facing description of one provider.
type Source struct {
	// ID is the provider's object path. Clients must not rely on it being
	// stable across versions.
	ID  string
	App AppInfo
	// Position is the display order, assigned after sorting.
	Position uint32
}

// SourceTuple is the (ssu) wire shape of a Source.
type SourceTuple struct {
	ID       string
	AppID    string
	Position uint32
}

// Serialize returns the wire tuple. The app is sent by id only; receivers
// resolve it again on their side.
func (s Source) Serialize() SourceTuple {
	return SourceTuple{ID: s.ID, AppID: s.App.ID, Position: s.Position}
}

// AppResolver looks up application info by desktop id.
type AppResolver func(appID string) (AppInfo, bool)

// DeserializeSource rebuilds a Source, resolving the app from its id. When
// the app is unknown locally only the id is kept.
func DeserializeSource(t SourceTuple, resolve AppResolver) (Source, error) {
	if t.ID == "" {
		return Source{}, fmt.Errorf("source without id")
	}
	app := AppInfo{ID: t.AppID}
	if resolve != nil && t.AppID != "" {
		if info, ok := resolve(t.AppID); ok {
			app = info
		}
	}
	return Source{ID: t.ID, App: app, Position: t.Position}, nil
}
