package resource

import "time"

func seedTime(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

// Seed provides the default localized support catalog.
func Seed() []Resource {
	return []Resource{
		{
			ID:        "en-988-lifeline",
			Locale:    "en",
			Name:      "988 Suicide & Crisis Lifeline",
			Kind:      KindHotline,
			Contact:   "988",
			URL:       "https://988lifeline.org",
			Priority:  100,
			Crisis:    true,
			UpdatedAt: seedTime("2025-11-02"),
		},
		{
			ID:        "en-crisis-text",
			Locale:    "en",
			Name:      "Crisis Text Line",
			Kind:      KindTextLine,
			Contact:   "Text HOME to 741741",
			URL:       "https://www.crisistextline.org",
			Priority:  90,
			Crisis:    true,
			UpdatedAt: seedTime("2025-09-14"),
		},
		{
			ID:        "en-samaritans",
			Locale:    "en",
			Name:      "Samaritans",
			Kind:      KindHotline,
			Contact:   "116 123",
			URL:       "https://www.samaritans.org",
			Priority:  80,
			Crisis:    true,
			UpdatedAt: seedTime("2025-08-21"),
		},
		{
			ID:        "en-box-breathing",
			Locale:    "en",
			Name:      "Box breathing exercise",
			Kind:      KindBreathing,
			URL:       "https://www.health.mil/boxbreathing",
			Priority:  60,
			Crisis:    true,
			UpdatedAt: seedTime("2025-06-30"),
		},
		{
			ID:        "en-grounding-54321",
			Locale:    "en",
			Name:      "5-4-3-2-1 grounding technique",
			Kind:      KindGrounding,
			Priority:  50,
			Crisis:    true,
			UpdatedAt: seedTime("2025-06-30"),
		},
		{
			ID:        "en-sleep-hygiene",
			Locale:    "en",
			Name:      "Sleep and mood basics",
			Kind:      KindArticle,
			URL:       "https://www.sleepfoundation.org/mental-health",
			Priority:  20,
			Crisis:    false,
			UpdatedAt: seedTime("2025-03-11"),
		},
		{
			ID:        "es-telefono-esperanza",
			Locale:    "es",
			Name:      "Teléfono de la Esperanza",
			Kind:      KindHotline,
			Contact:   "717 003 717",
			URL:       "https://telefonodelaesperanza.org",
			Priority:  100,
			Crisis:    true,
			UpdatedAt: seedTime("2025-10-05"),
		},
		{
			ID:        "es-linea-024",
			Locale:    "es",
			Name:      "Línea 024 de atención a la conducta suicida",
			Kind:      KindHotline,
			Contact:   "024",
			Priority:  95,
			Crisis:    true,
			UpdatedAt: seedTime("2025-10-05"),
		},
		{
			ID:        "es-respiracion",
			Locale:    "es",
			Name:      "Ejercicio de respiración guiada",
			Kind:      KindBreathing,
			Priority:  60,
			Crisis:    true,
			UpdatedAt: seedTime("2025-05-19"),
		},
	}
}
