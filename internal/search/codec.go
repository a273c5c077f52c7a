package search

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

// Keys of the result-meta dictionary.
const (
	KeyID            = "id"
	KeyTitle         = "title"
	KeyDescription   = "desc"
	KeyClipboardText = "clipboard-text"
	KeyIcon          = "icon"
)

// wireIcon is the (sv) struct a serialized icon travels as.
type wireIcon struct {
	Kind  string
	Value dbus.Variant
}

// SerializeResultMeta encodes m as an a{sv} dictionary. Absent fields are
// left out. An icon that fails to serialize is logged and dropped without
// failing the rest of the result.
func SerializeResultMeta(m *ResultMeta, logger *slog.Logger) map[string]dbus.Variant {
	if logger == nil {
		logger = slog.Default()
	}

	dict := map[string]dbus.Variant{
		KeyID:    dbus.MakeVariant(m.id),
		KeyTitle: dbus.MakeVariant(m.title),
	}
	if desc, ok := m.Description(); ok {
		dict[KeyDescription] = dbus.MakeVariant(desc)
	}
	if text, ok := m.ClipboardText(); ok {
		dict[KeyClipboardText] = dbus.MakeVariant(text)
	}
	if m.icon != nil {
		kind, value, err := m.icon.Serialize()
		if err != nil {
			logger.Warn("failed to serialize result icon", "result", m.id, "error", err)
		} else {
			dict[KeyIcon] = dbus.MakeVariant(wireIcon{Kind: kind, Value: dbus.MakeVariant(value)})
		}
	}
	return dict
}

// SerializeResultMetas encodes a list of results as aa{sv}.
func SerializeResultMetas(metas []*ResultMeta, logger *slog.Logger) []map[string]dbus.Variant {
	out := make([]map[string]dbus.Variant, 0, len(metas))
	for _, m := range metas {
		out = append(out, SerializeResultMeta(m, logger))
	}
	return out
}

// DeserializeResultMeta decodes an a{sv} dictionary. Only id and title are
// required; a malformed icon is dropped rather than failing the result.
func DeserializeResultMeta(dict map[string]dbus.Variant) (*ResultMeta, error) {
	id, err := requiredString(dict, KeyID)
	if err != nil {
		return nil, err
	}
	title, err := requiredString(dict, KeyTitle)
	if err != nil {
		return nil, err
	}

	var opts []MetaOption
	if v, ok := dict[KeyDescription]; ok {
		if desc, ok := v.Value().(string); ok {
			opts = append(opts, WithDescription(desc))
		}
	}
	if v, ok := dict[KeyClipboardText]; ok {
		if text, ok := v.Value().(string); ok {
			opts = append(opts, WithClipboardText(text))
		}
	}
	if v, ok := dict[KeyIcon]; ok {
		if icon, err := decodeIcon(v); err == nil {
			opts = append(opts, WithIcon(icon))
		}
	}
	return NewResultMeta(id, title, opts...), nil
}

// DeserializeResultMetas decodes aa{sv}. Entries without id or title are
// skipped and reported in the returned error; the valid ones are kept.
func DeserializeResultMetas(dicts []map[string]dbus.Variant) ([]*ResultMeta, error) {
	metas := make([]*ResultMeta, 0, len(dicts))
	var errs []error
	for i, dict := range dicts {
		m, err := DeserializeResultMeta(dict)
		if err != nil {
			errs = append(errs, fmt.Errorf("result %d: %w", i, err))
			continue
		}
		metas = append(metas, m)
	}
	return metas, errors.Join(errs...)
}

func requiredString(dict map[string]dbus.Variant, key string) (string, error) {
	v, ok := dict[key]
	if !ok {
		return "", fmt.Errorf("missing %q", key)
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("%q has signature %s, want s", key, v.Signature())
	}
	return s, nil
}

// decodeIcon accepts the (sv) form as decoded off the wire, the in-process
// struct form, and the plain string form.
func decodeIcon(v dbus.Variant) (Icon, error) {
	switch val := v.Value().(type) {
	case wireIcon:
		return DeserializeIcon(val.Kind, val.Value.Value())
	case []interface{}:
		if len(val) != 2 {
			return nil, fmt.Errorf("icon tuple has %d fields", len(val))
		}
		kind, ok := val[0].(string)
		if !ok {
			return nil, errors.New("icon kind is not a string")
		}
		inner, ok := val[1].(dbus.Variant)
		if !ok {
			return nil, errors.New("icon value is not a variant")
		}
		return DeserializeIcon(kind, inner.Value())
	case string:
		return IconFromString(val)
	default:
		return nil, fmt.Errorf("unsupported icon signature %s", v.Signature())
	}
}
