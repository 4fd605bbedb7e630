package spritecomposer

import "strings"

// OutputExt is appended to every generated output name.
const OutputExt = ".png"

// Combination is one base layer plus at most one file per non-base role, bottom -> top.
type Combination struct {
	Group      string
	Components []string
	Output     string
}

// OutputFilename joins the components with "_" and appends OutputExt.
func OutputFilename(components []string) string {
	return strings.Join(components, "_") + OutputExt
}

// Generator walks the Cartesian product of its lists as a mixed-radix counter.
// The last list is the fastest-varying digit. A generator is single pass.
type Generator struct {
	lists   [][]string
	indices []int
	more    bool
}

// NewGenerator starts a pass over lists. With no lists, or with any empty
// list, the generator is exhausted from the start.
func NewGenerator(lists [][]string) *Generator {
	more := len(lists) > 0
	for _, l := range lists {
		if len(l) == 0 {
			more = false
		}
	}
	return &Generator{
		lists:   lists,
		indices: make([]int, len(lists)),
		more:    more,
	}
}

func (g *Generator) HasMore() bool {
	return g.more
}

// Next returns the current tuple and advances the counter.
func (g *Generator) Next() ([]string, bool) {
	if !g.more {
		return nil, false
	}
	tuple := make([]string, len(g.lists))
	for i, l := range g.lists {
		tuple[i] = l[g.indices[i]]
	}
	// ripple carry
	for i := len(g.lists) - 1; i >= 0; i-- {
		g.indices[i]++
		if g.indices[i] < len(g.lists[i]) {
			break
		}
		g.indices[i] = 0
		if i == 0 {
			g.more = false
		}
	}
	return tuple, true
}

// Total is the number of tuples a fresh generator over lists yields.
func Total(lists [][]string) int {
	if len(lists) == 0 {
		return 0
	}
	n := 1
	for _, l := range lists {
		n *= len(l)
	}
	return n
}

// Expand builds every combination for one base file. With no dimensions the
// result is the single base-only combination.
func Expand(group, base string, dims [][]string) []Combination {
	if len(dims) == 0 {
		comps := []string{base}
		return []Combination{{Group: group, Components: comps, Output: OutputFilename(comps)}}
	}
	out := make([]Combination, 0, Total(dims))
	gen := NewGenerator(dims)
	for {
		tuple, ok := gen.Next()
		if !ok {
			break
		}
		comps := make([]string, 0, len(tuple)+1)
		comps = append(comps, base)
		comps = append(comps, tuple...)
		out = append(out, Combination{Group: group, Components: comps, Output: OutputFilename(comps)})
	}
	return out
}
