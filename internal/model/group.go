/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// maxGroupDepth caps parent walks; a longer chain is treated as a cycle.
const maxGroupDepth = 4096

// Group is a named node of the group tree. Only parent links are stored.
type Group struct {
	name   string
	parent *Group
}

func (g *Group) Name() string   { return g.name }
func (g *Group) Parent() *Group { return g.parent }

// topOf follows parent links from g to the root. When a cycle is found it returns the
// last group reached together with ErrGroupCycle.
func topOf(g *Group) (*Group, error) {
	if g == nil {
		return nil, nil
	}
	seen := make(map[*Group]struct{})
	for i := 0; g.parent != nil; i++ {
		if _, dup := seen[g]; dup || i >= maxGroupDepth {
			return g, fmt.Errorf("%w at %q", ErrGroupCycle, g.name)
		}
		seen[g] = struct{}{}
		g = g.parent
	}
	return g, nil
}

// TopGroup returns the root of p's group chain, or nil for an ungrouped piece.
func TopGroup(p *Piece) (*Group, error) {
	return topOf(p.group)
}

// chainOf lists g and its ancestors root first. A cycle truncates the chain.
func chainOf(g *Group) []*Group {
	var rev []*Group
	seen := make(map[*Group]struct{})
	for ; g != nil; g = g.parent {
		if _, dup := seen[g]; dup || len(rev) >= maxGroupDepth {
			break
		}
		seen[g] = struct{}{}
		rev = append(rev, g)
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}

// inGroup reports whether g is p's group or one of its ancestors.
func inGroup(p *Piece, g *Group) bool {
	for _, c := range chainOf(p.group) {
		if c == g {
			return true
		}
	}
	return false
}

// Groups returns the groups of the model in creation order.
func (m *Model) Groups() []*Group { return append([]*Group(nil), m.groups...) }

// GroupByName returns the group called name, or nil.
func (m *Model) GroupByName(name string) *Group {
	for _, g := range m.groups {
		if g.name == name {
			return g
		}
	}
	return nil
}

func (m *Model) addGroup(name string, parent *Group) *Group {
	g := &Group{name: name, parent: parent}
	m.groups = append(m.groups, g)
	return g
}

// uniqueGroupName returns base when unused, otherwise "base #n" with the smallest free n.
// An empty base yields "Group #n".
func (m *Model) uniqueGroupName(base string) string {
	if base != "" && m.GroupByName(base) == nil {
		return base
	}
	prefix := base
	if prefix == "" {
		prefix = "Group"
	}
	if i := strings.LastIndex(prefix, " #"); i > 0 {
		if _, err := strconv.Atoi(prefix[i+2:]); err == nil {
			prefix = prefix[:i]
		}
	}
	for n := 1; ; n++ {
		name := prefix + " #" + strconv.Itoa(n)
		if m.GroupByName(name) == nil {
			return name
		}
	}
}

// RemoveEmptyGroups splices out every group referenced by at most one piece or child group.
// The single referrer, if any, moves to the spliced group's parent. It repeats until no
// group qualifies and returns the number of groups removed.
func (m *Model) RemoveEmptyGroups() int {
	removed := 0
	for {
		idx := -1
		for i, g := range m.groups {
			if m.groupRefs(g) <= 1 {
				idx = i
				break
			}
		}
		if idx < 0 {
			return removed
		}
		g := m.groups[idx]
		parent := g.parent
		if parent == g {
			parent = nil
		}
		for _, p := range m.pieces {
			if p.group == g {
				p.group = parent
			}
		}
		for _, o := range m.groups {
			if o.parent == g {
				o.parent = parent
			}
		}
		m.groups = append(m.groups[:idx], m.groups[idx+1:]...)
		removed++
	}
}

func (m *Model) groupRefs(g *Group) int {
	n := 0
	for _, p := range m.pieces {
		if p.group == g {
			n++
		}
	}
	for _, o := range m.groups {
		if o.parent == g {
			n++
		}
	}
	return n
}
