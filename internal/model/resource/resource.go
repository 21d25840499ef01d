package resource

import "time"

// Kind categorises a support resource for client rendering.
type Kind string

const (
	KindHotline   Kind = "hotline"
	KindTextLine  Kind = "text_line"
	KindBreathing Kind = "breathing"
	KindGrounding Kind = "grounding"
	KindArticle   Kind = "article"
)

// Resource is one entry in the localized support catalog.
type Resource struct {
	ID        string    `json:"id"`
	Locale    string    `json:"locale"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Contact   string    `json:"contact,omitempty"`
	URL       string    `json:"url,omitempty"`
	Priority  int       `json:"priority"`
	Crisis    bool      `json:"crisis"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsContact reports whether the resource is something a person in crisis
// can reach right now.
func (r Resource) IsContact() bool {
	return r.Kind == KindHotline || r.Kind == KindTextLine
}
