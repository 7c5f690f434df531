package bus

import (
	"sort"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
)

type prefixRoute struct {
	prefix events.Type
	agent  string
}

// routeTable is the precompiled subscription index: exact types in a
// map, prefix subscriptions in a list sorted longest-first so the most
// specific prefix wins ordering ties deterministically.
type routeTable struct {
	exact    map[events.Type][]string
	prefixes []prefixRoute
}

func buildRoutes(handlers []agent.Handler) *routeTable {
	rt := &routeTable{exact: make(map[events.Type][]string)}
	for _, h := range handlers {
		for _, sub := range h.SubscribedEvents() {
			if sub.IsPrefix() {
				rt.prefixes = append(rt.prefixes, prefixRoute{prefix: sub, agent: h.Name()})
				continue
			}
			rt.exact[sub] = append(rt.exact[sub], h.Name())
		}
	}
	sort.SliceStable(rt.prefixes, func(i, j int) bool {
		return len(rt.prefixes[i].prefix) > len(rt.prefixes[j].prefix)
	})
	return rt
}

// route returns the subscribed agent names for an event type, exact
// matches first, then prefix matches, each agent at most once.
func (rt *routeTable) route(et events.Type) []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range rt.exact[et] {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, pr := range rt.prefixes {
		if pr.prefix.Matches(et) && !seen[pr.agent] {
			seen[pr.agent] = true
			out = append(out, pr.agent)
		}
	}
	return out
}
