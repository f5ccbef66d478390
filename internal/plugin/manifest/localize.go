package manifest

import (
	"sort"

	"golang.org/x/text/language"
)

// LocalizedName returns the name best matching the preferred languages,
// falling back to Name.
func (m *Metadata) LocalizedName(prefs ...language.Tag) string {
	return pick(m.LocalizedNames, m.Name, prefs)
}

// LocalizedDescription returns the description best matching the preferred
// languages, falling back to Description.
func (m *Metadata) LocalizedDescription(prefs ...language.Tag) string {
	return pick(m.LocalizedDescriptions, m.Description, prefs)
}

// Pick returns the entry of strings best matching prefs, or fallback.
func Pick(strings map[string]string, fallback string, prefs ...language.Tag) string {
	return pick(strings, fallback, prefs)
}

func pick(strs map[string]string, fallback string, prefs []language.Tag) string {
	if len(strs) == 0 || len(prefs) == 0 {
		return fallback
	}

	keys := make([]string, 0, len(strs))
	for k := range strs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// The first supported tag is the matcher's default; fallback must win
	// when nothing matches, so it goes first.
	supported := []language.Tag{language.Und}
	values := []string{fallback}
	for _, k := range keys {
		tag, err := language.Parse(k)
		if err != nil {
			continue
		}
		supported = append(supported, tag)
		values = append(values, strs[k])
	}

	_, idx, conf := language.NewMatcher(supported).Match(prefs...)
	if conf == language.No || idx >= len(values) {
		return fallback
	}
	return values[idx]
}
