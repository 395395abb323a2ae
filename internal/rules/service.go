package rules

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/schema-cli/internal/model"
)

// RuleStore is the slice of the store the service needs.
type RuleStore interface {
	Finder
	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, id string) (*model.Rule, error)
	ListRules(ctx context.Context) ([]model.Rule, error)
	UpdateRule(ctx context.Context, id, name, body string, backups []model.RuleBackup) error
	ActivateRule(ctx context.Context, id string) error
	DeactivateRule(ctx context.Context, id string) error
	DeleteRule(ctx context.Context, id string) error
}

// Service implements rule administration: create, edit with backup rotation,
// activation with scope uniqueness, restore, and YAML import/export.
type Service struct {
	store RuleStore
}

// NewService creates a rule Service.
func NewService(store RuleStore) *Service {
	return &Service{store: store}
}

// Create persists a new rule. When activate is set, the new rule also claims
// its scope triple, deactivating any current holder.
func (s *Service) Create(ctx context.Context, name, body string, key model.RuleKey, activate bool) (*model.Rule, error) {
	rule := &model.Rule{
		Name:     name,
		Body:     body,
		Domain:   key.Domain,
		PageType: key.PageType,
		Category: key.Category,
	}
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, eris.Wrap(err, "rules: create")
	}

	if activate {
		if err := s.store.ActivateRule(ctx, rule.ID); err != nil {
			return nil, eris.Wrapf(err, "rules: activate new rule %s", rule.ID)
		}
		rule.IsActive = true
	}
	return rule, nil
}

// Update edits a rule's name and body. A body change pushes the prior body
// onto the backup list before truncation to the rotation cap.
func (s *Service) Update(ctx context.Context, id, name, body string) (*model.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: load %s", id)
	}

	backups := rule.Backups
	if body != rule.Body {
		backups = model.RotateBackup(backups, model.RuleBackup{
			Content:   rule.Body,
			Timestamp: time.Now().UTC(),
		})
	}

	if err := s.store.UpdateRule(ctx, id, name, body, backups); err != nil {
		return nil, eris.Wrapf(err, "rules: update %s", id)
	}

	rule.Name = name
	rule.Body = body
	rule.Backups = backups
	return rule, nil
}

// Restore sets a rule's body to the content of the backup at index (0 is the
// newest). The restored entry stays on the list for repeated inspection; the
// pre-restore body is rotated in like any other edit.
func (s *Service) Restore(ctx context.Context, id string, index int) (*model.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: load %s", id)
	}
	if index < 0 || index >= len(rule.Backups) {
		return nil, eris.Errorf("rules: rule %s has no backup at index %d", id, index)
	}

	return s.Update(ctx, id, rule.Name, rule.Backups[index].Content)
}

// Activate makes the rule the single active one for its scope triple.
func (s *Service) Activate(ctx context.Context, id string) error {
	if err := s.store.ActivateRule(ctx, id); err != nil {
		return eris.Wrapf(err, "rules: activate %s", id)
	}
	zap.L().Info("rules: activated", zap.String("rule_id", id))
	return nil
}

// Deactivate turns a rule off without touching its peers.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return eris.Wrapf(s.store.DeactivateRule(ctx, id), "rules: deactivate %s", id)
}

// Delete permanently removes a rule. Irreversible.
func (s *Service) Delete(ctx context.Context, id string) error {
	return eris.Wrapf(s.store.DeleteRule(ctx, id), "rules: delete %s", id)
}

// Get returns a single rule by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Rule, error) {
	return s.store.GetRule(ctx, id)
}

// List returns all rules, newest first.
func (s *Service) List(ctx context.Context) ([]model.Rule, error) {
	return s.store.ListRules(ctx)
}

// ruleDoc is the YAML wire form for rule import/export. Backups are not
// exported; they are environment history, not configuration.
type ruleDoc struct {
	Name     string  `yaml:"name"`
	Body     string  `yaml:"body"`
	Domain   *string `yaml:"domain,omitempty"`
	PageType *string `yaml:"page_type,omitempty"`
	Category *string `yaml:"category,omitempty"`
	Active   bool    `yaml:"active"`
}

// ExportYAML writes every rule as a YAML document list.
func (s *Service) ExportYAML(ctx context.Context, w io.Writer) error {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return eris.Wrap(err, "rules: export")
	}

	docs := make([]ruleDoc, 0, len(rules))
	for _, r := range rules {
		docs = append(docs, ruleDoc{
			Name:     r.Name,
			Body:     r.Body,
			Domain:   r.Domain,
			PageType: r.PageType,
			Category: r.Category,
			Active:   r.IsActive,
		})
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close() //nolint:errcheck
	return eris.Wrap(enc.Encode(docs), "rules: encode yaml")
}

// ImportYAML creates rules from a YAML document list, activating the ones
// marked active. Returns the number of rules created.
func (s *Service) ImportYAML(ctx context.Context, r io.Reader) (int, error) {
	var docs []ruleDoc
	if err := yaml.NewDecoder(r).Decode(&docs); err != nil {
		return 0, eris.Wrap(err, "rules: decode yaml")
	}

	created := 0
	for i, doc := range docs {
		if doc.Name == "" || doc.Body == "" {
			return created, eris.Errorf("rules: import entry %d: name and body are required", i)
		}
		key := model.RuleKey{Domain: doc.Domain, PageType: doc.PageType, Category: doc.Category}
		if _, err := s.Create(ctx, doc.Name, doc.Body, key, doc.Active); err != nil {
			return created, eris.Wrapf(err, "rules: import entry %d", i)
		}
		created++
	}
	return created, nil
}
