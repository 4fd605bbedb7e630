package positions

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v3"
)

// Loader reads positions tables. Lua tables are evaluated in a VM with no
// standard libraries; YAML and JSON documents hold the group mapping at top level.
type Loader struct {
	// Global variable holding the table in Lua sources.
	Root   string
	Logger hclog.Logger
}

func NewLoader(root string, logger hclog.Logger) *Loader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if root == "" {
		root = "fgpos"
	}
	return &Loader{Root: root, Logger: logger}
}

// Load picks the format from the file extension; anything unknown is read as Lua.
func (l *Loader) Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open positions")
	}
	defer f.Close()

	var t *Table
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		t, err = l.ReadYAML(f)
	case ".json":
		t, err = l.ReadJSON(f)
	default:
		t, err = l.ReadLua(f, path)
	}
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	l.Logger.Info("positions loaded", "path", path, "groups", len(t.groups), "files", t.Len())
	return t, nil
}

// ReadLua executes src and walks the table bound to l.Root.
func (l *Loader) ReadLua(r io.Reader, name string) (*Table, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	if err := L.DoString(string(src)); err != nil {
		return nil, errors.Wrapf(err, "run lua %s", name)
	}
	root, ok := L.GetGlobal(l.Root).(*lua.LTable)
	if !ok {
		return nil, errors.Wrapf(ErrRootNotTable, "%q", l.Root)
	}

	t := New()
	root.ForEach(func(gk, gv lua.LValue) {
		if gk.Type() != lua.LTString {
			return
		}
		group := gk.String()
		files, ok := gv.(*lua.LTable)
		if !ok {
			l.Logger.Warn("group is not a table", "group", group)
			return
		}
		if _, exists := t.groups[group]; !exists {
			t.groups[group] = make(map[string]Pos)
		}
		files.ForEach(func(fk, fv lua.LValue) {
			if fk.Type() != lua.LTString {
				return
			}
			file := fk.String()
			entry, ok := fv.(*lua.LTable)
			if !ok {
				return
			}
			x, xok := entry.RawGetString("x").(lua.LNumber)
			if !xok {
				l.Logger.Warn("entry missing x", "group", group, "file", file)
				return
			}
			y, yok := entry.RawGetString("y").(lua.LNumber)
			if !yok {
				l.Logger.Warn("entry missing y", "group", group, "file", file)
				return
			}
			t.Set(group, file, Pos{X: int(x), Y: int(y)})
		})
	})
	return t, nil
}

func (l *Loader) ReadYAML(r io.Reader) (*Table, error) {
	groups := make(map[string]map[string]Pos)
	if err := yaml.NewDecoder(r).Decode(&groups); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode yaml")
	}
	return fromGroups(groups), nil
}

func (l *Loader) ReadJSON(r io.Reader) (*Table, error) {
	groups := make(map[string]map[string]Pos)
	if err := json.NewDecoder(r).Decode(&groups); err != nil {
		return nil, errors.Wrap(err, "decode json")
	}
	return fromGroups(groups), nil
}

func fromGroups(groups map[string]map[string]Pos) *Table {
	t := New()
	for g, files := range groups {
		t.groups[g] = make(map[string]Pos, len(files))
		for f, p := range files {
			t.groups[g][f] = p
		}
	}
	return t
}

// ============ WRITERS ============

var luaIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var luaReserved = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "goto": true,
	"if": true, "in": true, "local": true, "nil": true, "not": true,
	"or": true, "repeat": true, "return": true, "then": true, "true": true,
	"until": true, "while": true,
}

func luaKey(k string) string {
	if luaIdent.MatchString(k) && !luaReserved[k] {
		return k
	}
	return "[" + luaQuote(k) + "]"
}

// luaQuote escapes with decimal \ddd sequences, which every Lua version reads.
func luaQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&b, "\\%03d", c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// WriteLua renders the table as "root = { group = { file = {x = 1, y = 2}, }, }"
// with groups and files in sorted order.
func (t *Table) WriteLua(w io.Writer, root string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s = {\n", root)
	for _, g := range t.GroupNames() {
		fmt.Fprintf(&b, "\t%s = {\n", luaKey(g))
		for _, f := range t.FileNames(g) {
			p := t.groups[g][f]
			fmt.Fprintf(&b, "\t\t%s = {x = %d, y = %d},\n", luaKey(f), p.X, p.Y)
		}
		b.WriteString("\t},\n")
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Table) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t.groupsView()); err != nil {
		return errors.Wrap(err, "encode yaml")
	}
	return enc.Close()
}

func (t *Table) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(t.groupsView()), "encode json")
}
