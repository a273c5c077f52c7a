package dbusapi

import (
	"github.com/godbus/dbus/v5/introspect"
)

var searchInterface = introspect.Interface{
	Name: Interface,
	Methods: []introspect.Method{
		{
			Name: "Query",
			Args: []introspect.Arg{
				{Name: "query", Type: "s", Direction: "in"},
				{Name: "searching", Type: "b", Direction: "out"},
			},
		},
		{
			Name: "GetSources",
			Args: []introspect.Arg{
				{Name: "sources", Type: "a(ssu)", Direction: "out"},
			},
		},
		{
			Name: "GetLastResults",
			Args: []introspect.Arg{
				{Name: "results", Type: "a{saa{sv}}", Direction: "out"},
			},
		},
		{
			Name: "ActivateResult",
			Args: []introspect.Arg{
				{Name: "source_id", Type: "s", Direction: "in"},
				{Name: "result_id", Type: "s", Direction: "in"},
				{Name: "timestamp", Type: "u", Direction: "in"},
			},
		},
		{
			Name: "LaunchSource",
			Args: []introspect.Arg{
				{Name: "source_id", Type: "s", Direction: "in"},
				{Name: "timestamp", Type: "u", Direction: "in"},
			},
		},
	},
	Signals: []introspect.Signal{
		{
			Name: SignalSourceResultsChanged,
			Args: []introspect.Arg{
				{Name: "source_id", Type: "s"},
				{Name: "results", Type: "aa{sv}"},
			},
		},
		{
			Name: SignalQueryFinished,
		},
	},
}

var introspectXML = introspect.NewIntrospectable(&introspect.Node{
	Name: string(ObjectPath),
	Interfaces: []introspect.Interface{
		introspect.IntrospectData,
		searchInterface,
	},
})
