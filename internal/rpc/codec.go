package rpc

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/search"
)

// Field names used in structpb messages. Result metas use the same keys as
// the D-Bus dictionary.
const (
	FieldSourceID  = "source_id"
	FieldResultID  = "result_id"
	FieldAppID     = "app_id"
	FieldPosition  = "position"
	FieldTimestamp = "timestamp"
	FieldType      = "type"
	FieldResults   = "results"
	FieldIconKind  = "kind"
	FieldIconValue = "value"
)

// Event type tags.
const (
	EventSourceResultsChanged = "source-results-changed"
	EventQueryFinished        = "query-finished"
)

// MetaToStruct encodes m. An icon that cannot be serialized is logged and
// left out.
func MetaToStruct(m *search.ResultMeta, logger *slog.Logger) *structpb.Struct {
	if logger == nil {
		logger = slog.Default()
	}

	fields := map[string]*structpb.Value{
		search.KeyID:    structpb.NewStringValue(m.ID()),
		search.KeyTitle: structpb.NewStringValue(m.Title()),
	}
	if desc, ok := m.Description(); ok {
		fields[search.KeyDescription] = structpb.NewStringValue(desc)
	}
	if text, ok := m.ClipboardText(); ok {
		fields[search.KeyClipboardText] = structpb.NewStringValue(text)
	}
	if icon := m.Icon(); icon != nil {
		v, err := iconToValue(icon)
		if err != nil {
			logger.Warn("failed to serialize result icon", "result", m.ID(), "error", err)
		} else {
			fields[search.KeyIcon] = v
		}
	}
	return &structpb.Struct{Fields: fields}
}

func iconToValue(icon search.Icon) (*structpb.Value, error) {
	kind, value, err := icon.Serialize()
	if err != nil {
		return nil, err
	}

	var v *structpb.Value
	switch val := value.(type) {
	case []string:
		list := make([]*structpb.Value, len(val))
		for i, s := range val {
			list[i] = structpb.NewStringValue(s)
		}
		v = structpb.NewListValue(&structpb.ListValue{Values: list})
	case string:
		v = structpb.NewStringValue(val)
	case []byte:
		v = structpb.NewStringValue(base64.StdEncoding.EncodeToString(val))
	default:
		return nil, fmt.Errorf("%w: value of type %T", search.ErrIconNotSerializable, value)
	}

	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		FieldIconKind:  structpb.NewStringValue(kind),
		FieldIconValue: v,
	}}), nil
}

func iconFromValue(v *structpb.Value) (search.Icon, error) {
	s := v.GetStructValue()
	if s == nil {
		if str, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			return search.IconFromString(str.StringValue)
		}
		return nil, errors.New("icon is not a struct")
	}
	kind := s.GetFields()[FieldIconKind].GetStringValue()
	value := s.GetFields()[FieldIconValue]
	if value == nil {
		return nil, errors.New("icon without value")
	}

	switch kind {
	case search.IconKindThemed:
		var names []string
		for _, n := range value.GetListValue().GetValues() {
			names = append(names, n.GetStringValue())
		}
		if len(names) == 0 {
			return search.DeserializeIcon(kind, value.GetStringValue())
		}
		return search.DeserializeIcon(kind, names)
	case search.IconKindBytes:
		data, err := base64.StdEncoding.DecodeString(value.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("bytes icon: %w", err)
		}
		return search.DeserializeIcon(kind, data)
	default:
		return search.DeserializeIcon(kind, value.GetStringValue())
	}
}

// MetaFromStruct decodes a result meta. Only id and title are required.
func MetaFromStruct(s *structpb.Struct) (*search.ResultMeta, error) {
	fields := s.GetFields()
	id, ok := stringField(fields, search.KeyID)
	if !ok {
		return nil, fmt.Errorf("missing %q", search.KeyID)
	}
	title, ok := stringField(fields, search.KeyTitle)
	if !ok {
		return nil, fmt.Errorf("missing %q", search.KeyTitle)
	}

	var opts []search.MetaOption
	if desc, ok := stringField(fields, search.KeyDescription); ok {
		opts = append(opts, search.WithDescription(desc))
	}
	if text, ok := stringField(fields, search.KeyClipboardText); ok {
		opts = append(opts, search.WithClipboardText(text))
	}
	if v, ok := fields[search.KeyIcon]; ok {
		if icon, err := iconFromValue(v); err == nil {
			opts = append(opts, search.WithIcon(icon))
		}
	}
	return search.NewResultMeta(id, title, opts...), nil
}

func stringField(fields map[string]*structpb.Value, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false
	}
	return s.StringValue, true
}

// MetasToList encodes results in order.
func MetasToList(metas []*search.ResultMeta, logger *slog.Logger) *structpb.ListValue {
	values := make([]*structpb.Value, len(metas))
	for i, m := range metas {
		values[i] = structpb.NewStructValue(MetaToStruct(m, logger))
	}
	return &structpb.ListValue{Values: values}
}

// MetasFromList decodes results, keeping the valid ones and joining the
// errors of the others.
func MetasFromList(l *structpb.ListValue) ([]*search.ResultMeta, error) {
	metas := make([]*search.ResultMeta, 0, len(l.GetValues()))
	var errs []error
	for i, v := range l.GetValues() {
		m, err := MetaFromStruct(v.GetStructValue())
		if err != nil {
			errs = append(errs, fmt.Errorf("result %d: %w", i, err))
			continue
		}
		metas = append(metas, m)
	}
	return metas, errors.Join(errs...)
}

// SourcesToList encodes source tuples.
func SourcesToList(sources []search.SourceTuple) *structpb.ListValue {
	values := make([]*structpb.Value, len(sources))
	for i, src := range sources {
		values[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			FieldSourceID: structpb.NewStringValue(src.ID),
			FieldAppID:    structpb.NewStringValue(src.AppID),
			FieldPosition: structpb.NewNumberValue(float64(src.Position)),
		}})
	}
	return &structpb.ListValue{Values: values}
}

// SourcesFromList decodes source tuples.
func SourcesFromList(l *structpb.ListValue) ([]search.SourceTuple, error) {
	out := make([]search.SourceTuple, 0, len(l.GetValues()))
	for i, v := range l.GetValues() {
		fields := v.GetStructValue().GetFields()
		id, ok := stringField(fields, FieldSourceID)
		if !ok {
			return nil, fmt.Errorf("source %d: missing %q", i, FieldSourceID)
		}
		appID, _ := stringField(fields, FieldAppID)
		pos, err := uint32Field(fields, FieldPosition)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		out = append(out, search.SourceTuple{ID: id, AppID: appID, Position: pos})
	}
	return out, nil
}

func uint32Field(fields map[string]*structpb.Value, key string) (uint32, error) {
	v, ok := fields[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%q is not a number", key)
	}
	if n.NumberValue < 0 || n.NumberValue > math.MaxUint32 || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("%q out of range: %v", key, n.NumberValue)
	}
	return uint32(n.NumberValue), nil
}

// LastResultsToStruct encodes the per-source result cache.
func LastResultsToStruct(last map[string][]*search.ResultMeta, logger *slog.Logger) *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(last))
	for id, metas := range last {
		fields[id] = structpb.NewListValue(MetasToList(metas, logger))
	}
	return &structpb.Struct{Fields: fields}
}

// LastResultsFromStruct decodes the per-source result cache.
func LastResultsFromStruct(s *structpb.Struct) (map[string][]*search.ResultMeta, error) {
	out := make(map[string][]*search.ResultMeta, len(s.GetFields()))
	var errs []error
	for id, v := range s.GetFields() {
		metas, err := MetasFromList(v.GetListValue())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
		out[id] = metas
	}
	return out, errors.Join(errs...)
}

// EventToStruct encodes a broker event for the Subscribe stream.
func EventToStruct(ev broker.Event, logger *slog.Logger) (*structpb.Struct, error) {
	switch ev := ev.(type) {
	case broker.SourceResultsChanged:
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			FieldType:     structpb.NewStringValue(EventSourceResultsChanged),
			FieldSourceID: structpb.NewStringValue(ev.SourceID),
			FieldResults:  structpb.NewListValue(MetasToList(ev.Results, logger)),
		}}, nil
	case broker.QueryFinished:
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			FieldType: structpb.NewStringValue(EventQueryFinished),
		}}, nil
	default:
		return nil, fmt.Errorf("unknown event %T", ev)
	}
}

// EventFromStruct decodes a Subscribe stream message.
func EventFromStruct(s *structpb.Struct) (broker.Event, error) {
	fields := s.GetFields()
	typ, _ := stringField(fields, FieldType)
	switch typ {
	case EventQueryFinished:
		return broker.QueryFinished{}, nil
	case EventSourceResultsChanged:
		id, ok := stringField(fields, FieldSourceID)
		if !ok {
			return nil, fmt.Errorf("event without %q", FieldSourceID)
		}
		// Malformed entries are dropped; the rest are still delivered.
		metas, _ := MetasFromList(fields[FieldResults].GetListValue())
		return broker.SourceResultsChanged{SourceID: id, Results: metas}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", typ)
	}
}

// ActivateRequest is the payload of ActivateResult and LaunchSource.
type ActivateRequest struct {
	SourceID  string
	ResultID  string
	Timestamp uint32
}

// ToStruct encodes r. ResultID is omitted when empty.
func (r ActivateRequest) ToStruct() *structpb.Struct {
	fields := map[string]*structpb.Value{
		FieldSourceID:  structpb.NewStringValue(r.SourceID),
		FieldTimestamp: structpb.NewNumberValue(float64(r.Timestamp)),
	}
	if r.ResultID != "" {
		fields[FieldResultID] = structpb.NewStringValue(r.ResultID)
	}
	return &structpb.Struct{Fields: fields}
}

// ParseActivateRequest decodes an ActivateResult or LaunchSource payload.
func ParseActivateRequest(s *structpb.Struct) (ActivateRequest, error) {
	fields := s.GetFields()
	id, ok := stringField(fields, FieldSourceID)
	if !ok {
		return ActivateRequest{}, fmt.Errorf("missing %q", FieldSourceID)
	}
	resultID, _ := stringField(fields, FieldResultID)
	ts, err := uint32Field(fields, FieldTimestamp)
	if err != nil {
		return ActivateRequest{}, err
	}
	return ActivateRequest{SourceID: id, ResultID: resultID, Timestamp: ts}, nil
}

// StatusToStruct encodes a broker status with daemon counters.
func StatusToStruct(st broker.Status, version string, uptimeSeconds, requests int64, subscribers int) *structpb.Struct {
	terms := make([]*structpb.Value, len(st.Terms))
	for i, t := range st.Terms {
		terms[i] = structpb.NewStringValue(t)
	}
	ready := make(map[string]*structpb.Value, len(st.ProviderReady))
	for id, ok := range st.ProviderReady {
		ready[id] = structpb.NewBoolValue(ok)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"version":         structpb.NewStringValue(version),
		"uptime_seconds":  structpb.NewNumberValue(float64(uptimeSeconds)),
		"query":           structpb.NewStringValue(st.Query),
		"terms":           structpb.NewListValue(&structpb.ListValue{Values: terms}),
		"query_id":        structpb.NewStringValue(st.QueryID),
		"subsearch":       structpb.NewBoolValue(st.IsSubsearch),
		"outstanding":     structpb.NewNumberValue(float64(st.Outstanding)),
		"providers":       structpb.NewNumberValue(float64(st.Providers)),
		"ready_providers": structpb.NewNumberValue(float64(st.ReadyProviders)),
		"subscribers":     structpb.NewNumberValue(float64(subscribers)),
		"requests":        structpb.NewNumberValue(float64(requests)),
		"provider_ready":  structpb.NewStructValue(&structpb.Struct{Fields: ready}),
	}}
}
