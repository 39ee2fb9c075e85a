package pattern

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/opsflow/internal/model"
)

// RuleFile is the YAML document accepted by `opsflow rules import`:
//
//	rules:
//	  - name: Software subscriptions
//	    rule_type: classification
//	    conditions: {description: github}
//	    actions: {category: software}
type RuleFile struct {
	Rules []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	Conditions map[string]any `yaml:"conditions"`
	Actions    map[string]any `yaml:"actions"`
	Active     *bool          `yaml:"is_active"`
	ID         string         `yaml:"id"`
	RuleType   model.RuleType `yaml:"rule_type"`
	Name       string         `yaml:"name"`
	Expression string         `yaml:"expression"`
	Priority   int            `yaml:"priority"`
}

// LoadRules decodes a rule file for userID and validates every rule. Rules
// default to active, and a rule without an ID gets one derived from the user
// and rule name so re-importing the same file updates rather than duplicates.
func LoadRules(r io.Reader, userID string, v *Validator) ([]model.BusinessRule, error) {
	var file RuleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty rule file", ErrInvalidRule)
		}
		return nil, fmt.Errorf("failed to decode rule file: %w", err)
	}

	rules := make([]model.BusinessRule, 0, len(file.Rules))
	var errs []error
	for i, doc := range file.Rules {
		rule := doc.toRule(userID)
		if err := v.Validate(rule); err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i+1, err))
			continue
		}
		rules = append(rules, rule)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

func (d ruleDoc) toRule(userID string) model.BusinessRule {
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	id := d.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID+"/"+strings.ToLower(d.Name))).String()
	}
	return model.BusinessRule{
		Conditions: d.Conditions,
		Actions:    d.Actions,
		ID:         id,
		UserID:     userID,
		RuleType:   d.RuleType,
		Name:       d.Name,
		Expression: d.Expression,
		Priority:   d.Priority,
		IsActive:   active,
	}
}
