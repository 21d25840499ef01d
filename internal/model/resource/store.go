package resource

import (
	"sort"
	"strings"
)

// DefaultLocale is used when a requested locale has no catalog entries.
const DefaultLocale = "en"

// Store exposes resource retrieval for the escalation manager and handlers.
type Store interface {
	List() []Resource
	FindByID(id string) (Resource, bool)
	// ForLocale returns up to limit resources for the locale, ordered by
	// descending priority with ties broken by most recent update. When
	// crisisOnly is set, non-crisis entries are filtered out. limit <= 0
	// means no limit.
	ForLocale(locale string, crisisOnly bool, limit int) []Resource
}

// MemoryStore implements Store with a static in-memory catalog.
type MemoryStore struct {
	items []Resource
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied resources.
func NewMemoryStore(items []Resource) *MemoryStore {
	return &MemoryStore{items: append([]Resource(nil), items...)}
}

// List returns the full catalog.
func (s *MemoryStore) List() []Resource {
	return append([]Resource(nil), s.items...)
}

// FindByID looks up a resource by identifier.
func (s *MemoryStore) FindByID(id string) (Resource, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Resource{}, false
}

// ForLocale implements the prioritized locale lookup.
func (s *MemoryStore) ForLocale(locale string, crisisOnly bool, limit int) []Resource {
	locale = NormalizeLocale(locale)

	matched := s.collect(locale, crisisOnly)
	if len(matched) == 0 && locale != DefaultLocale {
		matched = s.collect(DefaultLocale, crisisOnly)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func (s *MemoryStore) collect(locale string, crisisOnly bool) []Resource {
	var out []Resource
	for _, item := range s.items {
		if item.Locale != locale {
			continue
		}
		if crisisOnly && !item.Crisis {
			continue
		}
		out = append(out, item)
	}
	return out
}

// NormalizeLocale lowers a BCP-47-ish tag to its base language ("en-US" → "en").
func NormalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		return DefaultLocale
	}
	if idx := strings.IndexAny(locale, "-_"); idx > 0 {
		locale = locale[:idx]
	}
	return locale
}

var fallbackReplies = map[string]string{
	"en": "I'm having trouble responding right now, but I'm still here with you. " +
		"If you need support this moment, the resources panel has people you can reach right away.",
	"es": "Ahora mismo tengo problemas para responder, pero sigo aquí contigo. " +
		"Si necesitas apoyo en este momento, en el panel de recursos hay personas disponibles de inmediato.",
}

// FallbackReply returns the static reply used when the AI collaborator is
// unavailable.
func FallbackReply(locale string) string {
	if reply, ok := fallbackReplies[NormalizeLocale(locale)]; ok {
		return reply
	}
	return fallbackReplies[DefaultLocale]
}
