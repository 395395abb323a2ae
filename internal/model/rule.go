package model

import "time"

// MaxRuleBackups caps the backup history kept per rule. Every body edit
// pushes the previous body onto the front of the list before truncation.
const MaxRuleBackups = 3

// Rule is a stored generation prompt, optionally scoped by a
// (domain, page_type, category) triple. Nil scope fields widen the match:
// a rule with all three empty is the global default.
type Rule struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Body      string       `json:"body"`
	Domain    *string      `json:"domain,omitempty"`
	PageType  *string      `json:"page_type,omitempty"`
	Category  *string      `json:"category,omitempty"`
	IsActive  bool         `json:"is_active"`
	Backups   []RuleBackup `json:"backups,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RuleBackup is one rotated prior body, newest first.
type RuleBackup struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RuleKey identifies the scope triple a rule applies to. At most one active
// rule may exist per key, the all-nil key included.
type RuleKey struct {
	Domain   *string
	PageType *string
	Category *string
}

// Key returns the rule's scope triple.
func (r *Rule) Key() RuleKey {
	return RuleKey{Domain: r.Domain, PageType: r.PageType, Category: r.Category}
}

// RotateBackup returns the backup list after pushing prior onto the front
// and truncating to MaxRuleBackups.
func RotateBackup(backups []RuleBackup, prior RuleBackup) []RuleBackup {
	out := make([]RuleBackup, 0, MaxRuleBackups)
	out = append(out, prior)
	for _, b := range backups {
		if len(out) == MaxRuleBackups {
			break
		}
		out = append(out, b)
	}
	return out
}
