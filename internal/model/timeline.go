/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package model

// CurrentStep is the step the document is shown at.
func (m *Model) CurrentStep() Step { return m.currentStep }

// LastStep is the highest show step of any object, at least 1.
func (m *Model) LastStep() Step {
	last := Step(1)
	for _, o := range m.Objects() {
		if s := o.StepShow(); s > last && s != StepMax {
			last = s
		}
	}
	return last
}

// CalculateStep positions the document at step. Selected objects that are not visible at step
// are deselected, and visible pieces whose top group holds a selected piece are selected.
func (m *Model) CalculateStep(step Step) {
	if step < 1 {
		step = 1
	}
	m.currentStep = step

	for _, o := range m.Objects() {
		if o.IsSelected() && !o.IsVisible(step) {
			o.base().setSelected(false)
		}
	}

	selectedTops := make(map[*Group]bool)
	for _, p := range m.pieces {
		if !p.selected {
			continue
		}
		if top, _ := TopGroup(p); top != nil {
			selectedTops[top] = true
		}
	}
	if len(selectedTops) == 0 {
		return
	}
	for _, p := range m.pieces {
		if p.selected || !p.IsVisible(step) {
			continue
		}
		if top, _ := TopGroup(p); top != nil && selectedTops[top] {
			p.setSelected(true)
		}
	}
}

// SetCurrentStep moves the timeline to step and notifies the observer.
func (m *Model) SetCurrentStep(step Step) {
	m.CalculateStep(step)
	m.observer.OnTimelineChanged(m.currentStep)
	m.observer.OnSelectionChanged()
}

func (m *Model) ShowFirstStep() { m.SetCurrentStep(1) }

func (m *Model) ShowLastStep() { m.SetCurrentStep(m.LastStep()) }

// ShowNextStep advances one step, stopping at the last step.
func (m *Model) ShowNextStep() {
	if m.currentStep < m.LastStep() {
		m.SetCurrentStep(m.currentStep + 1)
	}
}

// ShowPreviousStep goes back one step, stopping at step 1.
func (m *Model) ShowPreviousStep() {
	if m.currentStep > 1 {
		m.SetCurrentStep(m.currentStep - 1)
	}
}

// VisiblePieces lists the pieces visible at the current step.
func (m *Model) VisiblePieces() []*Piece {
	var out []*Piece
	for _, p := range m.pieces {
		if p.IsVisible(m.currentStep) {
			out = append(out, p)
		}
	}
	return out
}
