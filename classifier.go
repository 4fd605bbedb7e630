package spritecomposer

import (
	"regexp"
	"unicode/utf8"

	"github.com/pkg/errors"
)

type roleMatcher struct {
	role string
	re   *regexp.Regexp
}

// Classifier maps a file stem to its group key and role.
type Classifier struct {
	group *regexp.Regexp
	roles []roleMatcher
}

func NewClassifier(r Rules) (*Classifier, error) {
	if len(r.Roles) == 0 {
		return nil, ErrNoRules
	}
	g, err := regexp.Compile(r.Group)
	if err != nil {
		return nil, errors.Wrap(err, "group pattern")
	}
	if g.NumSubexp() != 1 {
		return nil, errors.Wrapf(ErrGroupPattern, "%q has %d", r.Group, g.NumSubexp())
	}
	c := &Classifier{group: g}
	for _, rule := range r.Roles {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "role %q", rule.Role)
		}
		c.roles = append(c.roles, roleMatcher{role: rule.Role, re: re})
	}
	return c, nil
}

// Group returns the first character of the group pattern's capture.
func (c *Classifier) Group(name string) (string, bool) {
	m := c.group.FindStringSubmatch(name)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	r, _ := utf8.DecodeRuneInString(m[1])
	return string(r), true
}

// Role returns the role of the first matching rule.
func (c *Classifier) Role(name string) (string, bool) {
	for _, rm := range c.roles {
		if rm.re.MatchString(name) {
			return rm.role, true
		}
	}
	return "", false
}

// RoleOrder lists the configured roles in rule order, without duplicates.
func (c *Classifier) RoleOrder() []string {
	seen := make(map[string]bool, len(c.roles))
	out := make([]string, 0, len(c.roles))
	for _, rm := range c.roles {
		if seen[rm.role] {
			continue
		}
		seen[rm.role] = true
		out = append(out, rm.role)
	}
	return out
}
