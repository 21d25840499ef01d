// Package crisis implements the local self-harm risk classifier. It is the
// authoritative signal for escalation and therefore pure: no network, no
// model calls, deterministic for a given utterance and locale. All patterns
// are compiled once at package load.
package crisis

import (
	"regexp"
	"sort"
	"strings"
)

// MaxRiskLevel caps the classifier output scale.
const MaxRiskLevel = 5

// Assessment is the classifier verdict for one utterance.
type Assessment struct {
	RiskLevel int      `json:"riskLevel"`
	Signals   []string `json:"signals,omitempty"`
}

// phraseTables maps locale → lower-cased phrase → base severity (2..5).
var phraseTables = map[string]map[string]int{
	"en": {
		"kill myself":        5,
		"end my life":        5,
		"suicide":            5,
		"want to die":        5,
		"better off dead":    5,
		"end it all":         5,
		"hurt myself":        4,
		"harm myself":        4,
		"self harm":          4,
		"self-harm":          4,
		"cut myself":         4,
		"cutting myself":     4,
		"overdose":           4,
		"no reason to live":  4,
		"hopeless":           3,
		"no way out":         3,
		"give up on life":    3,
		"worthless":          3,
		"nothing matters":    3,
		"hate myself":        2,
		"so depressed":       2,
		"panic attack":       2,
		"empty inside":       2,
		"completely alone":   2,
	},
	"es": {
		"matarme":            5,
		"suicidio":           5,
		"quiero morir":       5,
		"acabar con mi vida": 5,
		"hacerme daño":       4,
		"autolesion":         4,
		"sin esperanza":      3,
		"no vale la pena":    3,
		"me odio":            2,
		"muy deprimido":      2,
		"muy deprimida":      2,
	},
}

// ideation holds a named regex for implicit crisis language the phrase
// table cannot catch. Every match contributes severity 3.
type ideation struct {
	name string
	re   *regexp.Regexp
}

const ideationSeverity = 3

var ideationPatterns = map[string][]ideation{
	"en": {
		{name: "implicit-ideation", re: regexp.MustCompile(`can'?t (take|do|handle) (this|it)( all)? anymore`)},
		{name: "no-future", re: regexp.MustCompile(`what'?s the point (of|in) (living|going on|trying|anything)`)},
		{name: "burden", re: regexp.MustCompile(`everyone('d| would) be better (off )?without me`)},
		{name: "goodbye", re: regexp.MustCompile(`(won'?t|wouldn'?t) (be (around|here)|matter) (much longer|for long|anymore)`)},
	},
	"es": {
		{name: "implicit-ideation", re: regexp.MustCompile(`no (puedo|aguanto) m[aá]s`)},
		{name: "burden", re: regexp.MustCompile(`todos estar[ií]an mejor sin m[ií]`)},
	},
}

// Classify scores an utterance for crisis risk. Empty or whitespace-only
// text is risk 0 with no signals. Unknown locales fall back to English.
func Classify(text, locale string) Assessment {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Assessment{RiskLevel: 0}
	}

	locale = normalizeLocale(locale)
	table, ok := phraseTables[locale]
	if !ok {
		locale = "en"
		table = phraseTables[locale]
	}

	risk := 0
	matched := map[string]struct{}{}

	for phrase, severity := range table {
		if strings.Contains(normalized, phrase) {
			matched[phrase] = struct{}{}
			if severity > risk {
				risk = severity
			}
		}
	}

	for _, pattern := range ideationPatterns[locale] {
		if pattern.re.MatchString(normalized) {
			matched[pattern.name] = struct{}{}
			if ideationSeverity > risk {
				risk = ideationSeverity
			}
		}
	}

	if risk > MaxRiskLevel {
		risk = MaxRiskLevel
	}

	signals := make([]string, 0, len(matched))
	for s := range matched {
		signals = append(signals, s)
	}
	sort.Strings(signals)

	return Assessment{RiskLevel: risk, Signals: signals}
}

func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if idx := strings.IndexAny(locale, "-_"); idx > 0 {
		locale = locale[:idx]
	}
	return locale
}
