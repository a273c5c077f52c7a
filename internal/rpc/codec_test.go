package rpc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/logging"
	"github.com/phosh-mobile/searchd/internal/search"
)

type brokenIcon struct{}

func (brokenIcon) Serialize() (string, any, error) {
	return "", nil, search.ErrIconNotSerializable
}

// metaView exposes a ResultMeta's fields for comparison.
type metaView struct {
	ID, Title        string
	Desc, Clipboard  string
	HasDesc, HasClip bool
	Icon             search.Icon
}

func view(m *search.ResultMeta) metaView {
	v := metaView{ID: m.ID(), Title: m.Title(), Icon: m.Icon()}
	v.Desc, v.HasDesc = m.Description()
	v.Clipboard, v.HasClip = m.ClipboardText()
	return v
}

func TestMetaStruct_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		meta *search.ResultMeta
	}{
		{"minimal", search.NewResultMeta("1", "One")},
		{"empty description is kept", search.NewResultMeta("2", "Two", search.WithDescription(""))},
		{"all fields", search.NewResultMeta("3", "Three",
			search.WithDescription("third"),
			search.WithClipboardText("3!"),
			search.WithIcon(search.NewThemedIcon("edit-find", "system-search")))},
		{"file icon", search.NewResultMeta("4", "Four", search.WithIcon(search.NewFileIcon("/usr/share/icons/x.png")))},
		{"bytes icon", search.NewResultMeta("5", "Five", search.WithIcon(search.BytesIcon{Data: []byte{0x89, 'P', 'N', 'G'}}))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := MetaToStruct(tt.meta, logging.Discard())

			// Through the protobuf wire format as well.
			data, err := proto.Marshal(s)
			require.NoError(t, err)
			var decoded structpb.Struct
			require.NoError(t, proto.Unmarshal(data, &decoded))

			got, err := MetaFromStruct(&decoded)
			require.NoError(t, err)
			if diff := cmp.Diff(view(tt.meta), view(got)); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMetaToStruct_BrokenIcon(t *testing.T) {
	s := MetaToStruct(search.NewResultMeta("1", "One", search.WithIcon(brokenIcon{})), logging.Discard())
	assert.NotContains(t, s.GetFields(), search.KeyIcon)
	assert.Equal(t, "One", s.GetFields()[search.KeyTitle].GetStringValue())
}

func TestMetaFromStruct_Missing(t *testing.T) {
	_, err := MetaFromStruct(&structpb.Struct{Fields: map[string]*structpb.Value{
		search.KeyID: structpb.NewStringValue("1"),
	}})
	assert.Error(t, err)

	_, err = MetaFromStruct(&structpb.Struct{Fields: map[string]*structpb.Value{
		search.KeyID:    structpb.NewNumberValue(1),
		search.KeyTitle: structpb.NewStringValue("x"),
	}})
	assert.Error(t, err)
}

func TestMetasFromList_KeepsValid(t *testing.T) {
	l := MetasToList([]*search.ResultMeta{search.NewResultMeta("1", "One")}, nil)
	l.Values = append(l.Values, structpb.NewStructValue(&structpb.Struct{}))

	metas, err := MetasFromList(l)
	assert.Error(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "1", metas[0].ID())
}

func TestSources_RoundTrip(t *testing.T) {
	in := []search.SourceTuple{
		{ID: "/org/gnome/Settings/SearchProvider", AppID: "org.gnome.Settings.desktop", Position: 0},
		{ID: "/org/gnome/Contacts/SearchProvider", AppID: "org.gnome.Contacts.desktop", Position: 1},
	}
	out, err := SourcesFromList(SourcesToList(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSourcesFromList_Invalid(t *testing.T) {
	bad := &structpb.ListValue{Values: []*structpb.Value{
		structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			FieldSourceID: structpb.NewStringValue("/A"),
			FieldPosition: structpb.NewNumberValue(-1),
		}}),
	}}
	_, err := SourcesFromList(bad)
	assert.Error(t, err)

	_, err = SourcesFromList(&structpb.ListValue{Values: []*structpb.Value{structpb.NewStructValue(&structpb.Struct{})}})
	assert.Error(t, err)
}

func TestLastResults_RoundTrip(t *testing.T) {
	in := map[string][]*search.ResultMeta{
		"/A": {search.NewResultMeta("1", "One"), search.NewResultMeta("2", "Two")},
		"/B": {},
	}
	out, err := LastResultsFromStruct(LastResultsToStruct(in, nil))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Two", out["/A"][1].Title())
	assert.Empty(t, out["/B"])
}

func TestEvents_RoundTrip(t *testing.T) {
	s, err := EventToStruct(broker.SourceResultsChanged{
		SourceID: "/A",
		Results:  []*search.ResultMeta{search.NewResultMeta("1", "One")},
	}, nil)
	require.NoError(t, err)

	ev, err := EventFromStruct(s)
	require.NoError(t, err)
	changed := ev.(broker.SourceResultsChanged)
	assert.Equal(t, "/A", changed.SourceID)
	require.Len(t, changed.Results, 1)

	s, err = EventToStruct(broker.QueryFinished{}, nil)
	require.NoError(t, err)
	ev, err = EventFromStruct(s)
	require.NoError(t, err)
	assert.Equal(t, broker.QueryFinished{}, ev)

	_, err = EventFromStruct(&structpb.Struct{})
	assert.Error(t, err)
}

func TestActivateRequest_RoundTrip(t *testing.T) {
	in := ActivateRequest{SourceID: "/A", ResultID: "r1", Timestamp: 4294967295}
	out, err := ParseActivateRequest(in.ToStruct())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	launch := ActivateRequest{SourceID: "/A"}
	s := launch.ToStruct()
	assert.NotContains(t, s.GetFields(), FieldResultID)

	_, err = ParseActivateRequest(&structpb.Struct{})
	assert.Error(t, err)
}

func TestStatusToStruct(t *testing.T) {
	s := StatusToStruct(broker.Status{
		Query:          "foo bar",
		Terms:          []string{"foo", "bar"},
		Providers:      3,
		ReadyProviders: 2,
		ProviderReady:  map[string]bool{"/A": true, "/B": false},
	}, "1.0.0", 12, 7, 1)
	fields := s.GetFields()
	assert.Equal(t, float64(7), fields["requests"].GetNumberValue())
	ready := fields["provider_ready"].GetStructValue().GetFields()
	assert.True(t, ready["/A"].GetBoolValue())
	assert.False(t, ready["/B"].GetBoolValue())
	assert.Equal(t, "foo bar", fields["query"].GetStringValue())
	assert.Len(t, fields["terms"].GetListValue().GetValues(), 2)
	assert.Equal(t, float64(2), fields["ready_providers"].GetNumberValue())
	assert.Equal(t, "1.0.0", fields["version"].GetStringValue())
}
