package audit

import "strings"

// classification is one row of the inference table: the first rule whose
// patterns match the action/resource strings wins. Keeping this as an
// ordered table makes the fall-through defaults auditable in isolation.
type classification struct {
	actionContains   string
	resourceContains string
	severity         Severity
	category         Category
	flags            []string
}

var classifications = []classification{
	{actionContains: "admin_access", severity: SeverityCritical, category: CategorySystem, flags: []string{"sox"}},
	{actionContains: "delete", severity: SeverityCritical, category: CategoryData, flags: []string{"gdpr"}},
	{actionContains: "emergency", severity: SeverityCritical, category: CategorySecurity, flags: []string{"soc2"}},
	{actionContains: "data_export", severity: SeverityHigh, category: CategoryData, flags: []string{"gdpr"}},
	{actionContains: "block", severity: SeverityHigh, category: CategorySecurity, flags: []string{"soc2"}},
	{actionContains: "rotate", severity: SeverityHigh, category: CategorySecurity, flags: []string{"soc2"}},
	{resourceContains: "payment", severity: SeverityHigh, category: CategoryPayment, flags: []string{"pci"}},
	{actionContains: "password", severity: SeverityHigh, category: CategoryAuth, flags: []string{"soc2"}},
	{actionContains: "login", severity: SeverityMedium, category: CategoryAuth, flags: []string{"soc2"}},
	{actionContains: "logout", severity: SeverityLow, category: CategoryAuth},
	{resourceContains: "fraud", severity: SeverityHigh, category: CategorySecurity, flags: []string{"soc2"}},
	{resourceContains: "incident", severity: SeverityHigh, category: CategorySecurity, flags: []string{"soc2"}},
	{resourceContains: "moderation", severity: SeverityMedium, category: CategoryContent},
	{resourceContains: "chat", severity: SeverityLow, category: CategoryContent},
	{resourceContains: "rate_limit", severity: SeverityLow, category: CategorySystem},
}

// classify returns the severity, category and compliance flags the
// inference table assigns to an action/resource pair. The fall-through
// default is a low-severity system event with no flags.
func classify(action, resource string) (Severity, Category, []string) {
	action = strings.ToLower(action)
	resource = strings.ToLower(resource)

	for _, c := range classifications {
		if c.actionContains != "" && !strings.Contains(action, c.actionContains) {
			continue
		}
		if c.resourceContains != "" && !strings.Contains(resource, c.resourceContains) {
			continue
		}
		return c.severity, c.category, c.flags
	}
	return SeverityLow, CategorySystem, nil
}

// categoryFlags returns the compliance flags implied by a category, used
// when the caller supplied the category explicitly.
func categoryFlags(category Category) []string {
	switch category {
	case CategoryPayment:
		return []string{"pci"}
	case CategoryData:
		return []string{"gdpr"}
	case CategorySecurity, CategoryAuth:
		return []string{"soc2"}
	default:
		return nil
	}
}
