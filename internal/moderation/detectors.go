package moderation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

var (
	repeatedRunPattern = regexp.MustCompile(`(.)\1{6,}`)
	urlPattern         = regexp.MustCompile(`https?://[^\s]+`)

	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phonePattern = regexp.MustCompile(`\b(\+?\d{1,2}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)

	promotionalPhrases = []string{
		"click here",
		"buy now",
		"free money",
		"limited time offer",
		"act now",
		"subscribe now",
		"make money fast",
		"100% free",
	}
)

const redactedMarker = "[redacted]"

// moderateText runs the text detectors in order and returns their findings
// plus the content with banned terms masked and PII redacted.
func (m *Moderator) moderateText(content string) ([]finding, string) {
	var findings []finding
	filtered := content

	// (a) length
	if len(content) > m.cfg.MaxTextLength {
		findings = append(findings, finding{
			reason:   fmt.Sprintf("content exceeds maximum length of %d", m.cfg.MaxTextLength),
			category: CategoryLength,
			factor:   0.5,
		})
	}

	// (b) denylisted terms, masked in the filtered output
	for _, term := range m.cfg.BannedTerms {
		if term == "" || !containsFold(filtered, term) {
			continue
		}
		findings = append(findings, finding{
			reason:   "contains banned term",
			category: CategoryBannedTerm,
			factor:   0.3,
		})
		mask := strings.Repeat("*", len(term))
		filtered = replaceFold(filtered, term, mask)
	}

	// (c) spam heuristics
	findings = append(findings, spamFindings(content)...)

	// (d) personal information, redacted in the filtered output
	piiFindings, redacted := detectPII(filtered)
	findings = append(findings, piiFindings...)
	filtered = redacted

	// (e) links outside the allowed domains
	findings = append(findings, m.linkFindings(content)...)

	// (f) toxicity keyword density
	if f, ok := m.toxicityFinding(content); ok {
		findings = append(findings, f)
	}

	return findings, filtered
}

func spamFindings(content string) []finding {
	var findings []finding

	if repeatedRunPattern.MatchString(content) {
		findings = append(findings, finding{"excessive repeated characters", CategorySpam, 0.6})
	}

	var letters, upper int
	for _, r := range content {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters >= 10 && float64(upper)/float64(letters) > 0.5 {
		findings = append(findings, finding{"excessive capitalization", CategorySpam, 0.7})
	}

	lower := strings.ToLower(content)
	for _, phrase := range promotionalPhrases {
		if strings.Contains(lower, phrase) {
			findings = append(findings, finding{"promotional phrase: " + phrase, CategorySpam, 0.5})
		}
	}

	return findings
}

func detectPII(content string) ([]finding, string) {
	var findings []finding
	redacted := content

	checks := []struct {
		pattern *regexp.Regexp
		reason  string
	}{
		{ssnPattern, "SSN-like number detected"},
		{cardPattern, "card-like number detected"},
		{emailPattern, "email address detected"},
		{phonePattern, "phone number detected"},
	}
	for _, c := range checks {
		if !c.pattern.MatchString(redacted) {
			continue
		}
		findings = append(findings, finding{c.reason, CategoryPersonalInfo, 0.2})
		redacted = c.pattern.ReplaceAllString(redacted, redactedMarker)
	}
	return findings, redacted
}

func (m *Moderator) linkFindings(content string) []finding {
	var findings []finding
	for _, raw := range urlPattern.FindAllString(content, -1) {
		u, err := url.Parse(raw)
		if err != nil {
			findings = append(findings, finding{"unparseable link", CategoryExternalLink, 0.7})
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		allowed := false
		for _, domain := range m.cfg.AllowedDomains {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				allowed = true
				break
			}
		}
		if !allowed {
			findings = append(findings, finding{"link to unapproved domain: " + host, CategoryExternalLink, 0.7})
		}
	}
	return findings
}

func (m *Moderator) toxicityFinding(content string) (finding, bool) {
	words := strings.Fields(strings.ToLower(content))
	if len(words) == 0 || len(m.cfg.ToxicTerms) == 0 {
		return finding{}, false
	}

	toxic := map[string]bool{}
	for _, term := range m.cfg.ToxicTerms {
		toxic[strings.ToLower(term)] = true
	}

	hits := 0
	for _, w := range words {
		if toxic[strings.Trim(w, ".,!?;:'\"")] {
			hits++
		}
	}
	density := float64(hits) / float64(len(words))
	if density > 0.1 {
		return finding{
			reason:   fmt.Sprintf("toxic keyword density %.0f%%", density*100),
			category: CategoryToxicity,
			factor:   1 - density,
		}, true
	}
	return finding{}, false
}

// replaceFold replaces every case-insensitive occurrence of old with new.
func replaceFold(s, old, replacement string) string {
	lower := strings.ToLower(s)
	oldLower := strings.ToLower(old)
	var b strings.Builder
	for {
		i := strings.Index(lower, oldLower)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(replacement)
		s = s[i+len(old):]
		lower = lower[i+len(oldLower):]
	}
}
