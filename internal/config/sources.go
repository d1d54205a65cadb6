package config

import "staysync/internal/ics"

// SourceFilter narrows which properties' feeds are selected. Empty fields
// match everything.
type SourceFilter struct {
	Group         string
	PropertyNames []string
}

// FeedSources flattens the property registry into fetchable sources.
func (c *Config) FeedSources(f SourceFilter) []ics.Source {
	wanted := make(map[string]bool, len(f.PropertyNames))
	for _, n := range f.PropertyNames {
		if n != "" {
			wanted[n] = true
		}
	}

	sources := make([]ics.Source, 0)
	for _, p := range c.Properties {
		if f.Group != "" && p.Group != f.Group {
			continue
		}
		if len(wanted) > 0 && !wanted[p.Name] {
			continue
		}
		for _, feed := range p.Feeds {
			if feed.URL == "" {
				continue
			}
			sources = append(sources, ics.Source{
				ID:           feed.SourceID(),
				URL:          feed.URL,
				PropertyName: p.Name,
			})
		}
	}
	return sources
}
