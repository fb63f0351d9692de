package checklist

import (
	"regexp"
	"strings"
)

var (
	planHeaderRe = regexp.MustCompile(`(?i)^\s*PLAN MODE\s*\n+`)
	bulletRe     = regexp.MustCompile(`^(-|\*|\d+[.)]|\[\s?\])\s+(.*)$`)
	// Action verbs that usually open a distinct work item.
	actionRe     = regexp.MustCompile(`(?i)\b(?:trigger|add|make|build|fix|change|update|move|remove|drop|ditch|rename|swap|create|set)\b\s*`)
	fillerRe     = regexp.MustCompile(`(?i)^[\s,]*(?:okay|ok|ya|yeah|yep|so|alright)\b\s*`)
	politeRe     = regexp.MustCompile(`(?i)^[\s,]*(?:let's|lets|please)\b\s*`)
	justRe       = regexp.MustCompile(`(?i)^[\s,]*just\b\s*`)
	endPunctRe   = regexp.MustCompile(`[.?!]\s*$`)
	toPrefixRe   = regexp.MustCompile(`(?i)^to\s+`)
	forPrefixRe  = regexp.MustCompile(`(?i)^(For\s+[^,]{2,60},)\s*(.*)$`)
	nonKeyRe     = regexp.MustCompile(`[^a-z0-9\s',-]`)
	praiseRe     = regexp.MustCompile(`(?i)(nice|great|awesome|love|amazing|perfect)`)
	actionWordRe = regexp.MustCompile(`(?i)(add|make|fix|change|update|move|remove|drop|rename|swap|create|set)`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

var noiseFragments = map[string]struct{}{
	"great": {}, "nice": {}, "cool": {}, "awesome": {}, "perfect": {},
	"love": {}, "love it": {}, "amazing": {}, "and": {}, "or": {},
	"ok": {}, "okay": {}, "yep": {}, "yes": {}, "no": {},
	"thanks": {}, "thank you": {}, "dont": {}, "don't": {},
}

// Extract pulls an execution list out of operator text. Explicit bullet or
// numbered lists win; otherwise free-form prose is split around action
// verbs. Returns nil when fewer than three plausible items survive.
func Extract(text string) []string {
	t := planHeaderRe.ReplaceAllString(text, "")

	var bullets []string
	for _, raw := range strings.Split(t, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" {
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil && strings.TrimSpace(m[2]) != "" {
			bullets = append(bullets, strings.TrimSpace(m[2]))
		}
	}
	if len(bullets) >= 3 {
		return bullets
	}

	norm := strings.TrimSpace(spaceRe.ReplaceAllString(t, " "))
	if norm == "" {
		return nil
	}

	var rawParts []string
	for _, sentence := range splitSentences(norm) {
		s := strings.TrimSpace(sentence)
		if s == "" {
			continue
		}
		clean := fillerRe.ReplaceAllString(s, "")
		clean = politeRe.ReplaceAllString(clean, "")
		clean = justRe.ReplaceAllString(clean, "")
		clean = strings.TrimSpace(endPunctRe.ReplaceAllString(clean, ""))

		// One action verb (or none): keep the whole sentence so the verb
		// itself survives instead of producing fragments.
		if len(actionRe.FindAllStringIndex(s, -1)) <= 1 {
			rawParts = append(rawParts, clean)
			continue
		}
		for _, part := range actionRe.Split(s, -1) {
			part = strings.TrimSpace(part)
			part = toPrefixRe.ReplaceAllString(part, "")
			part = strings.TrimSpace(endPunctRe.ReplaceAllString(part, ""))
			if part != "" {
				rawParts = append(rawParts, part)
			}
		}
	}

	var out []string
	seen := map[string]struct{}{}
	pendingPrefix := ""
	for _, p := range rawParts {
		if p == "" {
			continue
		}
		low := strings.TrimSpace(nonKeyRe.ReplaceAllString(strings.ToLower(p), ""))
		if low == "" {
			continue
		}
		if _, noisy := noiseFragments[low]; noisy {
			continue
		}
		// Short praise-only fragments carry no work.
		if len(low) < 22 && praiseRe.MatchString(p) && !actionWordRe.MatchString(p) {
			continue
		}
		if len(low) < 6 {
			continue
		}

		// "For <subject>," alone is a prefix for the next item.
		if m := forPrefixRe.FindStringSubmatch(p); m != nil {
			rest := strings.TrimSpace(m[2])
			if rest == "" {
				pendingPrefix = strings.TrimSpace(m[1])
				continue
			}
			p = strings.TrimSpace(m[1]) + " " + rest
		}
		if pendingPrefix != "" {
			if !forPrefixRe.MatchString(p) {
				p = pendingPrefix + " " + p
			}
			pendingPrefix = ""
		}

		item := p
		if runes := []rune(item); len(runes) > 180 {
			item = strings.TrimSpace(string(runes[:180])) + "…"
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}

	if len(out) < 3 {
		return nil
	}
	if len(out) > 15 {
		out = out[:15]
	}
	return out
}

// ParseTodos is the looser variant for generated replies: a full Extract
// first, then plain "- " lines, capped at 20 items.
func ParseTodos(text string) []string {
	items := Extract(text)
	if len(items) == 0 {
		for _, raw := range strings.Split(text, "\n") {
			line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
			if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
				if item := strings.TrimSpace(line[2:]); item != "" {
					items = append(items, item)
				}
			}
		}
	}
	if len(items) > 20 {
		items = items[:20]
	}
	return items
}

// TodoPrompt builds the generation prompt for a card.
func TodoPrompt(title, body string) string {
	lines := []string{
		"PLAN MODE",
		"Generate a concise execution checklist for this card goal.",
		"Rules:",
		`- Output ONLY a bullet list (one item per line) using "- ".`,
		"- 6 to 14 items.",
		"- Each item should be an actionable verb phrase.",
		"",
		"Card title: " + title,
	}
	if strings.TrimSpace(body) != "" {
		lines = append(lines, "Card details: "+body)
	}
	return strings.Join(lines, "\n")
}

// splitSentences breaks prose after terminal punctuation followed by
// whitespace. regexp can't express the lookbehind, so this walks bytes.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s)-1; i++ {
		c := s[i]
		if (c == '.' || c == '?' || c == '!') && (s[i+1] == ' ' || s[i+1] == '\t') {
			out = append(out, s[start:i+1])
			i++
			for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
				i++
			}
			start = i
			i--
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
