package store

import "strings"

// DeriveNames recomputes the known character and location sets from the
// element sequence. Characters come from character elements with any
// extension stripped ("JOHN (V.O.)" -> "JOHN"); locations come from scene
// headings with the INT/EXT prefix and time-of-day suffix removed.
func DeriveNames(elements []Element) (characters, locations []string) {
	characters = []string{}
	locations = []string{}
	seenCharacter := map[string]bool{}
	seenLocation := map[string]bool{}

	for _, el := range elements {
		switch el.Type {
		case ElementCharacter:
			name := characterName(el.Content)
			if name != "" && !seenCharacter[name] {
				seenCharacter[name] = true
				characters = append(characters, name)
			}
		case ElementScene:
			name := locationName(el.Content)
			if name != "" && !seenLocation[name] {
				seenLocation[name] = true
				locations = append(locations, name)
			}
		}
	}
	return characters, locations
}

func characterName(content string) string {
	name := strings.ToUpper(strings.TrimSpace(content))
	if idx := strings.Index(name, "("); idx >= 0 {
		name = strings.TrimSpace(name[:idx])
	}
	return name
}

var scenePrefixes = []string{"INT./EXT.", "INT/EXT", "I/E.", "INT.", "EXT.", "INT ", "EXT "}

func locationName(content string) string {
	heading := strings.ToUpper(strings.TrimSpace(content))
	for _, prefix := range scenePrefixes {
		if strings.HasPrefix(heading, prefix) {
			heading = strings.TrimSpace(heading[len(prefix):])
			break
		}
	}
	// Drop the time-of-day segment: "KITCHEN - DAY" -> "KITCHEN".
	if idx := strings.LastIndex(heading, " - "); idx >= 0 {
		heading = strings.TrimSpace(heading[:idx])
	}
	return heading
}
