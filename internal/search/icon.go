package search

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Icon kinds used in the GIcon (sv) serialization.
const (
	IconKindThemed = "themed"
	IconKindFile   = "file"
	IconKindBytes  = "bytes"
)

// ErrIconNotSerializable is returned by icons that have no wire form.
var ErrIconNotSerializable = errors.New("icon cannot be serialized")

// Icon is an icon that may be sent over the wire. Serialize returns the
// kind tag and the value of the GIcon (sv) serialization.
type Icon interface {
	Serialize() (kind string, value any, err error)
}

// ThemedIcon is an icon looked up by name in the icon theme. Names are
// tried in order.
type ThemedIcon struct {
	Names []string
}

// NewThemedIcon returns a themed icon with the given fallback names.
func NewThemedIcon(names ...string) ThemedIcon {
	return ThemedIcon{Names: names}
}

func (i ThemedIcon) Serialize() (string, any, error) {
	if len(i.Names) == 0 {
		return "", nil, fmt.Errorf("%w: themed icon without names", ErrIconNotSerializable)
	}
	names := make([]string, len(i.Names))
	copy(names, i.Names)
	return IconKindThemed, names, nil
}

// FileIcon is an icon loaded from a URI.
type FileIcon struct {
	URI string
}

// NewFileIcon returns a file icon for an absolute path.
func NewFileIcon(path string) FileIcon {
	u := url.URL{Scheme: "file", Path: path}
	return FileIcon{URI: u.String()}
}

func (i FileIcon) Serialize() (string, any, error) {
	if i.URI == "" {
		return "", nil, fmt.Errorf("%w: file icon without uri", ErrIconNotSerializable)
	}
	return IconKindFile, i.URI, nil
}

// BytesIcon is an icon carrying its encoded image data.
type BytesIcon struct {
	Data []byte
}

func (i BytesIcon) Serialize() (string, any, error) {
	if len(i.Data) == 0 {
		return "", nil, fmt.Errorf("%w: empty bytes icon", ErrIconNotSerializable)
	}
	data := make([]byte, len(i.Data))
	copy(data, i.Data)
	return IconKindBytes, data, nil
}

// DeserializeIcon rebuilds an icon from its kind and value. The value types
// are those produced by Serialize.
func DeserializeIcon(kind string, value any) (Icon, error) {
	switch kind {
	case IconKindThemed:
		switch v := value.(type) {
		case []string:
			if len(v) == 0 {
				return nil, errors.New("themed icon without names")
			}
			return ThemedIcon{Names: append([]string(nil), v...)}, nil
		case string:
			return ThemedIcon{Names: []string{v}}, nil
		}
	case IconKindFile:
		if v, ok := value.(string); ok && v != "" {
			return FileIcon{URI: v}, nil
		}
	case IconKindBytes:
		if v, ok := value.([]byte); ok && len(v) > 0 {
			return BytesIcon{Data: append([]byte(nil), v...)}, nil
		}
	default:
		return nil, fmt.Errorf("unknown icon kind %q", kind)
	}
	return nil, fmt.Errorf("invalid %s icon value of type %T", kind, value)
}

// IconFromString parses the string form of an icon: a URI or absolute path
// yields a FileIcon, anything else a ThemedIcon.
func IconFromString(s string) (Icon, error) {
	switch {
	case s == "":
		return nil, errors.New("empty icon string")
	case strings.HasPrefix(s, "/"):
		return NewFileIcon(s), nil
	case strings.Contains(s, "://"):
		return FileIcon{URI: s}, nil
	default:
		return ThemedIcon{Names: []string{s}}, nil
	}
}
