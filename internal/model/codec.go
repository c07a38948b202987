/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package model

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/goki/mat32"
)

// Meta namespace of application extension lines.
const metaPrefix = "!LEOCAD"

const lineEnd = "\r\n"

// pieceMeta collects PIECE and SYNTH lines that apply to the next placement line.
type pieceMeta struct {
	stepHide Step
	hidden   bool
	controls []ControlPoint
	inSynth  bool
}

func (pm *pieceMeta) reset() { *pm = pieceMeta{stepHide: StepMax} }

// parse replaces the model contents with the document at the start of data and returns the
// number of bytes consumed. A second FILE line ends the document before it; NOFILE ends it
// after it. Malformed lines are kept as passthrough text; nothing aborts the parse.
func (m *Model) parse(data []byte) int {
	m.clearContents()
	m.props = Properties{}

	var (
		step       Step = 1
		groupStack []*Group
		meta       pieceMeta
		headerOpen = true
		fileSeen   bool
		comments   []string
	)
	meta.reset()
	pos := 0
	for pos < len(data) {
		next := len(data)
		end := len(data)
		if i := bytes.IndexByte(data[pos:], '\n'); i >= 0 {
			end = pos + i
			next = end + 1
		}
		line := strings.TrimSpace(string(data[pos:end]))
		start := pos
		pos = next
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if fields[0] != "0" {
			if fields[0] == "1" {
				if m.parsePlacement(line, fields, step, groupStack, &meta) {
					headerOpen = false
					continue
				}
			}
			m.passthrough(line)
			headerOpen = false
			continue
		}
		if len(fields) == 1 {
			m.passthrough(line)
			headerOpen = false
			continue
		}

		switch strings.ToUpper(fields[1]) {
		case "FILE":
			if fileSeen {
				if m.props.Comments == "" {
					m.props.Comments = strings.Join(comments, "\n")
				}
				return start
			}
			fileSeen = true
			if m.props.Name == "" {
				m.props.Name = restAfter(line, 2)
			}
			continue
		case "NOFILE":
			m.props.Comments = strings.Join(comments, "\n")
			return pos
		case "STEP":
			step++
			meta.reset()
			m.passthrough(line)
			headerOpen = false
			continue
		case "NAME:":
			if headerOpen {
				m.props.Name = restAfter(line, 2)
				continue
			}
		case "AUTHOR:":
			if headerOpen {
				m.props.Author = restAfter(line, 2)
				continue
			}
		case metaPrefix:
			if len(fields) >= 3 && strings.EqualFold(fields[2], "MODEL") {
				if len(fields) >= 4 {
					switch strings.ToUpper(fields[3]) {
					case "COMMENT":
						comments = append(comments, restAfter(line, 4))
						continue
					case "DESCRIPTION":
						m.props.Description = restAfter(line, 4)
						continue
					case "NAME":
						m.props.Name = restAfter(line, 4)
						continue
					case "AUTHOR":
						m.props.Author = restAfter(line, 4)
						continue
					}
				}
				m.passthrough(line)
				continue
			}
			if m.parseMeta(line, fields, step, &groupStack, &meta) {
				headerOpen = false
				continue
			}
		default:
			if headerOpen && m.props.Description == "" && !strings.HasPrefix(fields[1], "!") {
				m.props.Description = strings.TrimSpace(line[1:])
				continue
			}
		}
		m.passthrough(line)
		headerOpen = false
	}
	m.props.Comments = strings.Join(comments, "\n")
	return pos
}

func (m *Model) passthrough(line string) {
	m.fileLines = append(m.fileLines, line)
}

// parseMeta handles the namespaced PIECE, GROUP, SYNTH, CAMERA and LIGHT lines.
// It reports false for lines it does not understand.
func (m *Model) parseMeta(line string, fields []string, step Step, groupStack *[]*Group, meta *pieceMeta) bool {
	if len(fields) < 4 {
		return false
	}
	switch strings.ToUpper(fields[2]) {
	case "PIECE":
		switch strings.ToUpper(fields[3]) {
		case "STEP_HIDE":
			if len(fields) < 5 {
				return false
			}
			n, err := strconv.ParseUint(fields[4], 10, 32)
			if err != nil {
				return false
			}
			meta.stepHide = Step(n)
			return true
		case "HIDDEN":
			meta.hidden = true
			return true
		}
	case "GROUP":
		switch strings.ToUpper(fields[3]) {
		case "BEGIN":
			name := restAfter(line, 4)
			var parent *Group
			if n := len(*groupStack); n > 0 {
				parent = (*groupStack)[n-1]
			}
			g := m.GroupByName(name)
			if g == nil {
				g = m.addGroup(name, parent)
			} else {
				g.parent = parent
			}
			*groupStack = append(*groupStack, g)
			return true
		case "END":
			if n := len(*groupStack); n > 0 {
				*groupStack = (*groupStack)[:n-1]
			}
			return true
		}
	case "SYNTH":
		switch strings.ToUpper(fields[3]) {
		case "BEGIN":
			meta.controls = nil
			meta.inSynth = true
			return true
		case "END":
			meta.controls = nil
			meta.inSynth = false
			return true
		case "CONTROL_POINT":
			nums, ok := parseFloat32s(fields[4:])
			if !ok || len(nums) != 13 {
				return false
			}
			var v [12]float32
			copy(v[:], nums[:12])
			meta.controls = append(meta.controls, ControlPoint{Transform: placementToInternal(v), Scale: nums[12]})
			return true
		}
	case "CAMERA":
		if c, ok := parseCamera(line, fields[3:]); ok {
			m.cameras = append(m.cameras, c)
			return true
		}
	case "LIGHT":
		if l, ok := parseLight(line, fields[3:]); ok {
			m.lights = append(m.lights, l)
			return true
		}
	}
	return false
}

// parsePlacement turns a placement line into a piece. It reports false for malformed lines,
// which the caller keeps as passthrough. Lines whose part would include this model are dropped.
func (m *Model) parsePlacement(line string, fields []string, step Step, groupStack []*Group, meta *pieceMeta) bool {
	if len(fields) < 15 {
		m.log.Debug("placement kept as text", slog.Any("err", ErrMalformedLine), slog.String("line", line))
		return false
	}
	color, err := strconv.Atoi(fields[1])
	if err != nil {
		m.log.Debug("placement kept as text", slog.Any("err", ErrMalformedLine), slog.String("line", line))
		return false
	}
	nums, ok := parseFloat32s(fields[2:14])
	if !ok {
		m.log.Debug("placement kept as text", slog.Any("err", ErrMalformedLine), slog.String("line", line))
		return false
	}
	var v [12]float32
	copy(v[:], nums)
	partID := restAfter(line, 14)

	h, err := m.resolvePart(partID)
	if err != nil {
		m.log.Warn("placement dropped", slog.String("part", partID), slog.Any("err", err))
		meta.reset()
		return true
	}
	p := &Piece{
		objectBase: newObjectBase(step),
		partID:     partID,
		handle:     h,
		color:      color,
		transform:  placementToInternal(v),
		fileLine:   len(m.fileLines),
	}
	p.stepHide = meta.stepHide
	p.hidden = meta.hidden
	if len(meta.controls) > 0 {
		p.controls = meta.controls
	}
	if n := len(groupStack); n > 0 {
		p.group = groupStack[n-1]
	}
	inSynth := meta.inSynth
	meta.reset()
	meta.inSynth = inSynth
	m.pieces = append(m.pieces, p)
	m.lib.LoadGeometry(h, false, false)
	return true
}

func parseCamera(line string, f []string) (*Camera, bool) {
	c := newCamera("", mat32.Vec3{}, mat32.Vec3{}, 1)
	for i := 0; i < len(f); i++ {
		switch strings.ToUpper(f[i]) {
		case "FOV", "ZNEAR", "ZFAR":
			if i+1 >= len(f) {
				return nil, false
			}
			v, err := strconv.ParseFloat(f[i+1], 32)
			if err != nil {
				return nil, false
			}
			switch strings.ToUpper(f[i]) {
			case "FOV":
				c.FOV = float32(v)
			case "ZNEAR":
				c.ZNear = float32(v)
			default:
				c.ZFar = float32(v)
			}
			i++
		case "POSITION", "TARGET_POSITION", "UP_VECTOR":
			nums, ok := parseFloat32s(sliceN(f, i+1, 3))
			if !ok {
				return nil, false
			}
			v := vecToInternal(nums[0], nums[1], nums[2])
			switch strings.ToUpper(f[i]) {
			case "POSITION":
				c.Eye = v
			case "TARGET_POSITION":
				c.Target = v
			default:
				c.Up = v
			}
			i += 3
		case "ORTHOGRAPHIC":
			c.Ortho = true
		case "HIDDEN":
			c.hidden = true
		case "STEP_SHOW", "STEP_HIDE":
			if !parseStepToken(f, i, &c.objectBase) {
				return nil, false
			}
			i++
		case "NAME":
			c.Name = restAfter(line, 4+i)
			return c, true
		default:
			return nil, false
		}
	}
	return c, true
}

func parseLight(line string, f []string) (*Light, bool) {
	l := &Light{objectBase: newObjectBase(1), Type: LightPoint, Color: mat32.Vec3{X: 1, Y: 1, Z: 1}}
	for i := 0; i < len(f); i++ {
		switch strings.ToUpper(f[i]) {
		case "TYPE":
			if i+1 >= len(f) {
				return nil, false
			}
			t, ok := parseLightType(strings.ToUpper(f[i+1]))
			if !ok {
				return nil, false
			}
			l.Type = t
			i++
		case "POSITION", "COLOR":
			nums, ok := parseFloat32s(sliceN(f, i+1, 3))
			if !ok {
				return nil, false
			}
			if strings.EqualFold(f[i], "POSITION") {
				l.Pos = vecToInternal(nums[0], nums[1], nums[2])
			} else {
				l.Color = mat32.Vec3{X: nums[0], Y: nums[1], Z: nums[2]}
			}
			i += 3
		case "HIDDEN":
			l.hidden = true
		case "STEP_SHOW", "STEP_HIDE":
			if !parseStepToken(f, i, &l.objectBase) {
				return nil, false
			}
			i++
		case "NAME":
			l.Name = restAfter(line, 4+i)
			return l, true
		default:
			return nil, false
		}
	}
	return l, true
}

func parseStepToken(f []string, i int, o *objectBase) bool {
	if i+1 >= len(f) {
		return false
	}
	n, err := strconv.ParseUint(f[i+1], 10, 32)
	if err != nil || n == 0 {
		return false
	}
	if strings.EqualFold(f[i], "STEP_SHOW") {
		o.stepShow = Step(n)
	} else {
		o.stepHide = Step(n)
	}
	return true
}

// sliceN returns f[i:i+n], or nil when f is too short.
func sliceN(f []string, i, n int) []string {
	if i+n > len(f) {
		return nil
	}
	return f[i : i+n]
}

func parseFloat32s(fields []string) ([]float32, bool) {
	if len(fields) == 0 {
		return nil, false
	}
	out := make([]float32, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, false
		}
		out[i] = float32(v)
	}
	return out, true
}

// restAfter returns line with its first n fields and the following blanks removed.
func restAfter(line string, n int) string {
	s := strings.TrimLeft(line, " \t")
	for i := 0; i < n; i++ {
		j := strings.IndexAny(s, " \t")
		if j < 0 {
			return ""
		}
		s = strings.TrimLeft(s[j:], " \t")
	}
	return s
}

func formatFloat(v float32) string {
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

func formatFloats(b *strings.Builder, vals ...float32) {
	for _, v := range vals {
		b.WriteByte(' ')
		b.WriteString(formatFloat(v))
	}
}

// headerKeywords are first tokens the parser reads as commands rather than as the description.
var headerKeywords = map[string]bool{"FILE": true, "NOFILE": true, "STEP": true, "NAME:": true, "AUTHOR:": true}

// plainHeaderText reports whether d reads back as the description when written as a bare comment.
func plainHeaderText(d string) bool {
	f := strings.Fields(d)
	if len(f) == 0 || strings.TrimSpace(d) != d {
		return false
	}
	return !headerKeywords[strings.ToUpper(f[0])] && !strings.HasPrefix(f[0], "!")
}

func isStepLine(line string) bool {
	f := strings.Fields(line)
	return len(f) == 2 && f[0] == "0" && strings.EqualFold(f[1], "STEP")
}

// Serialize writes the whole document, every object at every step, in the persisted format.
// Selection and the current step are not part of the output.
func (m *Model) Serialize() []byte {
	var b strings.Builder
	w := func(s string) {
		b.WriteString(s)
		b.WriteString(lineEnd)
	}

	if d := m.props.Description; d != "" {
		if plainHeaderText(d) {
			w("0 " + d)
		} else {
			w("0 " + metaPrefix + " MODEL DESCRIPTION " + d)
		}
	}
	if n := m.props.Name; n != "" {
		if strings.TrimSpace(n) == n {
			w("0 Name: " + n)
		} else {
			w("0 " + metaPrefix + " MODEL NAME " + n)
		}
	}
	if a := m.props.Author; a != "" {
		if strings.TrimSpace(a) == a {
			w("0 Author: " + a)
		} else {
			w("0 " + metaPrefix + " MODEL AUTHOR " + a)
		}
	}
	if m.props.Comments != "" {
		for _, c := range strings.Split(m.props.Comments, "\n") {
			w(strings.TrimRight("0 "+metaPrefix+" MODEL COMMENT "+c, " "))
		}
	}

	step := Step(1)
	next := 0
	var open []*Group
	for _, p := range m.pieces {
		for next < p.fileLine && next < len(m.fileLines) {
			line := m.fileLines[next]
			next++
			if isStepLine(line) {
				if p.stepShow > step {
					step++
					w(line)
				}
				continue
			}
			w(line)
		}
		for step < p.stepShow {
			w("0 STEP")
			step++
		}

		chain := chainOf(p.group)
		common := 0
		for common < len(open) && common < len(chain) && open[common] == chain[common] {
			common++
		}
		for i := len(open) - 1; i >= common; i-- {
			w("0 " + metaPrefix + " GROUP END")
		}
		for _, g := range chain[common:] {
			w("0 " + metaPrefix + " GROUP BEGIN " + g.name)
		}
		open = chain

		if p.stepHide != StepMax {
			w(fmt.Sprintf("0 %s PIECE STEP_HIDE %d", metaPrefix, p.stepHide))
		}
		if p.hidden {
			w("0 " + metaPrefix + " PIECE HIDDEN")
		}
		if len(p.controls) > 0 {
			w("0 " + metaPrefix + " SYNTH BEGIN")
			for _, cp := range p.controls {
				var lb strings.Builder
				lb.WriteString("0 " + metaPrefix + " SYNTH CONTROL_POINT")
				v := internalToPlacement(cp.Transform)
				formatFloats(&lb, v[:]...)
				formatFloats(&lb, cp.Scale)
				w(lb.String())
			}
		}
		w(placementLine(p))
		if len(p.controls) > 0 {
			w("0 " + metaPrefix + " SYNTH END")
		}
	}
	for ; next < len(m.fileLines); next++ {
		w(m.fileLines[next])
	}
	for range open {
		w("0 " + metaPrefix + " GROUP END")
	}
	for _, c := range m.cameras {
		w(cameraLine(c))
	}
	for _, l := range m.lights {
		w(lightLine(l))
	}
	return []byte(b.String())
}

func placementLine(p *Piece) string {
	var b strings.Builder
	b.WriteString("1 ")
	b.WriteString(strconv.Itoa(p.color))
	v := internalToPlacement(p.transform)
	formatFloats(&b, v[:]...)
	b.WriteByte(' ')
	b.WriteString(p.partID)
	return b.String()
}

func writeSteps(b *strings.Builder, o *objectBase) {
	if o.hidden {
		b.WriteString(" HIDDEN")
	}
	if o.stepShow > 1 {
		fmt.Fprintf(b, " STEP_SHOW %d", o.stepShow)
	}
	if o.stepHide != StepMax {
		fmt.Fprintf(b, " STEP_HIDE %d", o.stepHide)
	}
}

func cameraLine(c *Camera) string {
	var b strings.Builder
	b.WriteString("0 " + metaPrefix + " CAMERA FOV")
	formatFloats(&b, c.FOV)
	b.WriteString(" ZNEAR")
	formatFloats(&b, c.ZNear)
	b.WriteString(" ZFAR")
	formatFloats(&b, c.ZFar)
	for _, kv := range []struct {
		key string
		v   mat32.Vec3
	}{{"POSITION", c.Eye}, {"TARGET_POSITION", c.Target}, {"UP_VECTOR", c.Up}} {
		b.WriteString(" " + kv.key)
		f := vecToFile(kv.v)
		formatFloats(&b, f[:]...)
	}
	if c.Ortho {
		b.WriteString(" ORTHOGRAPHIC")
	}
	writeSteps(&b, &c.objectBase)
	b.WriteString(" NAME " + c.Name)
	return b.String()
}

func lightLine(l *Light) string {
	var b strings.Builder
	b.WriteString("0 " + metaPrefix + " LIGHT TYPE " + string(l.Type) + " POSITION")
	f := vecToFile(l.Pos)
	formatFloats(&b, f[:]...)
	b.WriteString(" COLOR")
	formatFloats(&b, l.Color.X, l.Color.Y, l.Color.Z)
	writeSteps(&b, &l.objectBase)
	b.WriteString(" NAME " + l.Name)
	return b.String()
}
