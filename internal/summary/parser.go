package summary

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Parse turns raw model output into a Document. It first tries the
// strict path (a JSON object with a sections array); if the model
// wrapped the JSON in prose or returned plain text, it falls back to
// the heuristic line parser. Raw is preserved on both paths.
func Parse(raw string) *Document {
	if doc := parseJSON(raw); doc != nil {
		doc.Raw = raw
		return doc
	}
	return &Document{Sections: heuristicParse(raw), Raw: raw}
}

// parseJSON locates the outermost JSON object in the text and
// validates that it carries a sections array of {title, bullets[]}.
// Returns nil when no such object is found.
func parseJSON(s string) *Document {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil
	}

	var parsed struct {
		Sections []struct {
			Title   string   `json:"title"`
			Bullets []string `json:"bullets"`
		} `json:"sections"`
		Participants []string `json:"participants"`
		Decisions    []string `json:"decisions"`
		ActionItems  []string `json:"action_items"`
		Questions    []string `json:"questions"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &parsed); err != nil {
		return nil
	}
	if parsed.Sections == nil {
		return nil
	}

	doc := &Document{
		Participants: cleanList(parsed.Participants),
		Decisions:    cleanList(parsed.Decisions),
		ActionItems:  cleanList(parsed.ActionItems),
		Questions:    cleanList(parsed.Questions),
	}
	for _, sec := range parsed.Sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "Untitled"
		}
		doc.Sections = append(doc.Sections, Section{
			Title:   title,
			Bullets: cleanList(sec.Bullets),
		})
	}
	return doc
}

var (
	markdownHeadingRe = regexp.MustCompile(`^\s*#{1,6}\s*(.+)$`)
	colonHeadingRe    = regexp.MustCompile(`^\s*([\p{Lu}\p{Hebrew}][\p{L}\p{N} \-]{2,60}):\s*$`)
	standaloneRe      = regexp.MustCompile(`^\s*([\p{Lu}\p{Hebrew}][\p{L}\p{N} \-]{2,60})\s*$`)
	bulletRe          = regexp.MustCompile(`^\s*[-•*]\s+(.+)$`)
	numberedRe        = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
)

// heuristicParse extracts sections from plain text: markdown or
// title-like lines open a section, bullet or numbered lines become
// bullets under the most recent heading, and everything else is
// folded in as a bullet too. Text before any heading goes under
// "General".
func heuristicParse(s string) []Section {
	var sections []Section
	var title string
	var bullets []string

	flush := func() {
		if title != "" || len(bullets) > 0 {
			if title == "" {
				title = "General"
			}
			sections = append(sections, Section{Title: title, Bullets: bullets})
		}
		title = ""
		bullets = nil
	}

	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if m := bulletRe.FindStringSubmatch(line); m != nil {
			if title == "" {
				title = "General"
			}
			bullets = append(bullets, strings.TrimSpace(m[1]))
			continue
		}
		if m := numberedRe.FindStringSubmatch(line); m != nil {
			if title == "" {
				title = "General"
			}
			bullets = append(bullets, strings.TrimSpace(m[1]))
			continue
		}

		heading := ""
		for _, re := range []*regexp.Regexp{markdownHeadingRe, colonHeadingRe, standaloneRe} {
			if m := re.FindStringSubmatch(line); m != nil {
				heading = strings.TrimSpace(m[1])
				break
			}
		}
		if heading != "" {
			flush()
			title = heading
			continue
		}

		// A prose line inside a section reads as a bullet.
		if title == "" {
			title = "General"
		}
		bullets = append(bullets, strings.TrimSpace(line))
	}
	flush()

	return sections
}

func cleanList(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
