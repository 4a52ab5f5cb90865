package provider

import (
	"booking_server/core/domain"
	"booking_server/core/port/out"
)

// Registry maps provider tags to their adapters. Supporting a new provider
// is a registration at bootstrap, not a switch edit in the aggregation path.
type Registry struct {
	adapters map[domain.CalendarProvider]out.BusyCalendarPort
}

func NewRegistry(adapters ...out.BusyCalendarPort) *Registry {
	r := &Registry{
		adapters: make(map[domain.CalendarProvider]out.BusyCalendarPort, len(adapters)),
	}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

func (r *Registry) Lookup(provider domain.CalendarProvider) (out.BusyCalendarPort, bool) {
	adapter, ok := r.adapters[provider]
	return adapter, ok
}

var _ out.ProviderRegistry = (*Registry)(nil)
