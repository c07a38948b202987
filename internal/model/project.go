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

	"brickcad/internal/library"
	applog "brickcad/internal/log"
)

type projectEntry struct {
	name  string
	model *Model
}

// Project is an ordered set of documents stored in one stream. Every document of a stream with
// more than one is registered with the piece source under its FILE name, so the others can place it.
type Project struct {
	lib    PieceSource
	opts   Options
	models []projectEntry
	active *Model
	log    *slog.Logger
}

// NewProject returns a project holding one empty document.
func NewProject(lib PieceSource, opts Options) *Project {
	m := New(lib, opts)
	return &Project{
		lib:    lib,
		opts:   opts,
		models: []projectEntry{{model: m}},
		active: m,
		log:    applog.WithComponent("model"),
	}
}

// fileSections returns the byte offset and name of every FILE line in data.
func fileSections(data []byte) (offsets []int, names []string) {
	pos := 0
	for pos < len(data) {
		end := len(data)
		if i := bytes.IndexByte(data[pos:], '\n'); i >= 0 {
			end = pos + i
		}
		line := strings.TrimSpace(string(data[pos:end]))
		f := strings.Fields(line)
		if len(f) >= 2 && f[0] == "0" && strings.EqualFold(f[1], "FILE") {
			offsets = append(offsets, pos)
			names = append(names, restAfter(line, 2))
		}
		pos = end + 1
	}
	return offsets, names
}

// Load replaces the project with the documents in data. All FILE names are registered before any
// document is parsed so forward references resolve to the document rather than a library part.
func (pr *Project) Load(data []byte) error {
	pr.closeModels()
	offsets, names := fileSections(data)
	if len(offsets) == 0 {
		m := New(pr.lib, pr.opts)
		m.Load(data)
		pr.models = []projectEntry{{model: m}}
		pr.active = m
		pr.lib.Sweep()
		return nil
	}

	pr.models = make([]projectEntry, 0, len(offsets))
	first := make([]bool, len(offsets))
	for i, name := range names {
		if pr.Model(name) != nil {
			pr.log.Warn("duplicate model skipped", slog.String("model", name))
			continue
		}
		first[i] = true
		pr.models = append(pr.models, projectEntry{name: name, model: pr.newModel(name)})
	}
	for i, off := range offsets {
		if first[i] {
			pr.Model(names[i]).Load(data[off:])
		}
	}
	if len(pr.models) == 0 {
		return fmt.Errorf("%w: no document in stream", ErrUnknownModel)
	}
	pr.active = pr.models[0].model
	pr.lib.Sweep()
	pr.log.Info("project loaded", slog.Int("models", len(pr.models)))
	return nil
}

// Save writes every document. With more than one, each is wrapped in FILE and NOFILE lines.
func (pr *Project) Save() []byte {
	if len(pr.models) == 1 {
		return pr.models[0].model.Serialize()
	}
	var b bytes.Buffer
	for _, e := range pr.models {
		b.WriteString("0 FILE " + e.name + lineEnd)
		b.Write(e.model.Serialize())
		b.WriteString("0 NOFILE" + lineEnd)
	}
	return b.Bytes()
}

// MarkSaved marks every document as saved.
func (pr *Project) MarkSaved() {
	for _, e := range pr.models {
		e.model.MarkSaved()
	}
}

// IsModified reports whether any document changed since it was last saved.
func (pr *Project) IsModified() bool {
	for _, e := range pr.models {
		if e.model.IsModified() {
			return true
		}
	}
	return false
}

func (pr *Project) Models() []*Model {
	out := make([]*Model, len(pr.models))
	for i, e := range pr.models {
		out[i] = e.model
	}
	return out
}

// Model returns the document stored under name (case-insensitive), or nil.
func (pr *Project) Model(name string) *Model {
	for _, e := range pr.models {
		key := e.name
		if key == "" {
			key = e.model.Name()
		}
		if key != "" && strings.EqualFold(key, name) {
			return e.model
		}
	}
	return nil
}

func (pr *Project) ActiveModel() *Model { return pr.active }

func (pr *Project) SetActiveModel(name string) error {
	m := pr.Model(name)
	if m == nil {
		return fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	pr.active = m
	return nil
}

// AddModel creates an empty document under name and registers it as a placeable part.
func (pr *Project) AddModel(name string) (*Model, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = pr.uniqueModelName()
	}
	if pr.Model(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, name)
	}
	if len(pr.models) == 1 && pr.models[0].name == "" {
		first := pr.models[0].model
		pr.models[0].name = first.props.Name
		if pr.models[0].name == "" {
			pr.models[0].name = "model.ldr"
		}
		pr.lib.RegisterModel(pr.models[0].name, first)
	}
	m := pr.newModel(name)
	pr.models = append(pr.models, projectEntry{name: name, model: m})
	return m, nil
}

// newModel returns an empty document called name, registered with the piece source.
func (pr *Project) newModel(name string) *Model {
	m := New(pr.lib, pr.opts)
	m.props.Name = name
	m.history.Reset()
	m.savedID = m.history.Push("", m.Serialize()).ID
	pr.lib.RegisterModel(name, m)
	return m
}

func (pr *Project) uniqueModelName() string {
	for n := 1; ; n++ {
		name := "Submodel " + strconv.Itoa(n) + ".ldr"
		if pr.Model(name) == nil {
			return name
		}
	}
}

// MoveSelectionToModel takes the selected pieces out of src into a new document called name and
// puts one placement of that document in their place. Steps of the moved pieces are shifted so the
// earliest starts at 1; the placement appears at that earliest step. Groups are recreated by name.
func (pr *Project) MoveSelectionToModel(src *Model, name string) (*Model, error) {
	sel := src.SelectedPieces()
	if len(sel) == 0 {
		return nil, ErrNothingSelected
	}
	sub, err := pr.AddModel(name)
	if err != nil {
		return nil, err
	}
	name = pr.models[len(pr.models)-1].name

	first := StepMax
	for _, p := range sel {
		first = min(first, p.stepShow)
	}
	for _, p := range sel {
		src.takePiece(p)
		p.setSelected(false)
		chain := chainOf(p.group)
		p.group = nil
		for _, g := range chain {
			ng := sub.GroupByName(g.name)
			if ng == nil {
				ng = sub.addGroup(g.name, p.group)
			}
			p.group = ng
		}
		p.stepShow -= first - 1
		if p.stepHide != StepMax {
			p.stepHide -= first - 1
		}
		sub.insertPiece(p)
	}
	src.RemoveEmptyGroups()

	sub.history.Reset()
	sub.savedID = sub.history.Push("", sub.Serialize()).ID

	ref, err := src.InsertPiece(name, library.ColorMain, Identity(), first)
	if err != nil {
		return sub, err
	}
	src.ClearSelectionAndSetFocus(ref)
	src.SaveCheckpoint("New Model")
	return sub, nil
}

func (pr *Project) closeModels() {
	for _, e := range pr.models {
		if e.name != "" {
			pr.lib.UnregisterModel(e.name)
		}
		e.model.Close()
	}
	pr.models = nil
	pr.active = nil
	pr.lib.Sweep()
}

// Close releases every document and detaches them from the piece source.
func (pr *Project) Close() {
	pr.closeModels()
}
