// Package positions holds externally supplied layer anchors, keyed by group and
// then by file stem.
package positions

import (
	"maps"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrGroupNotFound = errors.New("group not found")
	ErrFileNotFound  = errors.New("file not found")
	ErrRootNotTable  = errors.New("root is not a table")
)

// Pos is an absolute top-left corner.
type Pos struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

type Table struct {
	groups map[string]map[string]Pos
}

func New() *Table {
	return &Table{groups: make(map[string]map[string]Pos)}
}

// Set creates the group and file entries when missing.
func (t *Table) Set(group, file string, p Pos) {
	g, ok := t.groups[group]
	if !ok {
		g = make(map[string]Pos)
		t.groups[group] = g
	}
	g[file] = p
}

func (t *Table) Lookup(group, file string) (Pos, error) {
	g, ok := t.groups[group]
	if !ok {
		return Pos{}, errors.Wrapf(ErrGroupNotFound, "%q", group)
	}
	p, ok := g[file]
	if !ok {
		return Pos{}, errors.Wrapf(ErrFileNotFound, "%q in group %q", file, group)
	}
	return p, nil
}

func (t *Table) HasGroup(group string) bool {
	_, ok := t.groups[group]
	return ok
}

func (t *Table) Has(group, file string) bool {
	_, err := t.Lookup(group, file)
	return err == nil
}

// GroupNames is sorted.
func (t *Table) GroupNames() []string {
	return slices.Sorted(maps.Keys(t.groups))
}

// FileNames is sorted; nil for an unknown group.
func (t *Table) FileNames(group string) []string {
	g, ok := t.groups[group]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(g))
}

func (t *Table) Len() int {
	n := 0
	for _, g := range t.groups {
		n += len(g)
	}
	return n
}

// Collect merges every group whose key contains field into one group stored
// under field itself, and returns how many groups matched. Groups are merged in
// key order, so a later group wins a duplicate file.
func (t *Table) Collect(field string) int {
	merged := make(map[string]Pos)
	matched := 0
	for _, name := range t.GroupNames() {
		if !strings.Contains(name, field) {
			continue
		}
		maps.Copy(merged, t.groups[name])
		matched++
	}
	if matched > 0 {
		t.groups[field] = merged
	}
	return matched
}

func (t *Table) groupsView() map[string]map[string]Pos {
	return t.groups
}
