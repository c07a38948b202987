/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var carStream = crlf(
	"0 FILE main.ldr",
	"0 Main",
	"0 Name: main.ldr",
	"1 16 0 0 0 1 0 0 0 1 0 0 0 1 wheel.ldr",
	"1 4 0 0 0 1 0 0 0 1 0 0 0 1 3001.dat",
	"0 NOFILE",
	"0 FILE wheel.ldr",
	"0 Wheel",
	"0 Name: wheel.ldr",
	"1 1 0 0 0 1 0 0 0 1 0 0 0 1 3003.dat",
	"1 16 0 0 0 1 0 0 0 1 0 0 0 1 main.ldr",
	"0 NOFILE",
)

func TestProjectLoadsForwardReferences(t *testing.T) {
	lib := testLibrary(t)
	pr := NewProject(lib, Options{})
	t.Cleanup(pr.Close)
	require.NoError(t, pr.Load([]byte(carStream)))

	require.Len(t, pr.Models(), 2)
	main, wheel := pr.Model("main.ldr"), pr.Model("WHEEL.LDR")
	require.NotNil(t, main)
	require.NotNil(t, wheel)
	assert.Same(t, main, pr.ActiveModel())

	require.Len(t, main.Pieces(), 2)
	assert.True(t, main.Pieces()[0].Info().IsModel())
	assert.True(t, main.IncludesModel(wheel))
	assert.False(t, wheel.IncludesModel(main))

	// The back reference from wheel.ldr would include main.ldr in itself and is dropped.
	require.Len(t, wheel.Pieces(), 1)
	assert.Equal(t, "3003.dat", wheel.Pieces()[0].PartID())

	assert.False(t, main.BoundingBox().IsEmpty())
	want := strings.Replace(carStream, "1 16 0 0 0 1 0 0 0 1 0 0 0 1 main.ldr\r\n", "", 1)
	assert.Equal(t, want, string(pr.Save()))
	assert.False(t, pr.IsModified())
}

func TestProjectWithoutFileSections(t *testing.T) {
	pr := NewProject(testLibrary(t), Options{})
	t.Cleanup(pr.Close)
	doc := crlf("0 Name: single.ldr", "1 4 0 0 0 1 0 0 0 1 0 0 0 1 3001.dat")
	require.NoError(t, pr.Load([]byte(doc)))
	require.Len(t, pr.Models(), 1)
	assert.Same(t, pr.ActiveModel(), pr.Model("single.ldr"))
	assert.Equal(t, doc, string(pr.Save()))
}

func TestAddModelAndActivate(t *testing.T) {
	pr := NewProject(testLibrary(t), Options{})
	t.Cleanup(pr.Close)
	sub, err := pr.AddModel("")
	require.NoError(t, err)
	assert.Equal(t, "Submodel 1.ldr", sub.Name())
	_, err = pr.AddModel("submodel 1.ldr")
	assert.True(t, errors.Is(err, ErrDuplicateModel))

	require.NoError(t, pr.SetActiveModel("Submodel 1.ldr"))
	assert.Same(t, sub, pr.ActiveModel())
	assert.True(t, errors.Is(pr.SetActiveModel("nope"), ErrUnknownModel))

	out := string(pr.Save())
	assert.Contains(t, out, "0 FILE model.ldr\r\n")
	assert.Contains(t, out, "0 FILE Submodel 1.ldr\r\n0 Name: Submodel 1.ldr\r\n0 NOFILE\r\n")
}

func TestMoveSelectionToModel(t *testing.T) {
	lib := testLibrary(t)
	pr := NewProject(lib, Options{})
	t.Cleanup(pr.Close)
	require.NoError(t, pr.Load([]byte(crlf(
		"0 Name: main.ldr",
		"1 4 0 0 0 1 0 0 0 1 0 0 0 1 3004.dat",
		"0 STEP",
		"0 !LEOCAD GROUP BEGIN Seat",
		"1 4 0 0 0 1 0 0 0 1 0 0 0 1 3001.dat",
		"0 STEP",
		"1 4 0 0 0 1 0 0 0 1 0 0 0 1 3003.dat",
		"0 !LEOCAD GROUP END",
	))))
	main := pr.ActiveModel()
	main.SetObjectSelected(main.Pieces()[1], true)
	require.Len(t, main.SelectedPieces(), 2)

	sub, err := pr.MoveSelectionToModel(main, "seat.ldr")
	require.NoError(t, err)
	require.Len(t, pr.Models(), 2)

	subPieces := sub.Pieces()
	require.Len(t, subPieces, 2)
	assert.Equal(t, []Step{1, 2}, []Step{subPieces[0].StepShow(), subPieces[1].StepShow()})
	require.NotNil(t, sub.GroupByName("Seat"))
	assert.Same(t, sub.GroupByName("Seat"), subPieces[0].Group())
	assert.False(t, sub.IsModified())

	pieces := main.Pieces()
	require.Len(t, pieces, 2)
	assert.Equal(t, "seat.ldr", pieces[1].PartID())
	assert.Equal(t, Step(2), pieces[1].StepShow())
	assert.Empty(t, main.Groups())
	assert.True(t, main.IncludesModel(sub))
	assert.Equal(t, "New Model", main.UndoDescription())

	_, err = sub.AddPiece("main.ldr", 16, Identity())
	assert.True(t, errors.Is(err, ErrRecursiveModel))

	out := string(pr.Save())
	assert.Contains(t, out, "0 FILE seat.ldr\r\n")
	assert.Contains(t, out, "1 16 0 0 0 1 0 0 0 1 0 0 0 1 seat.ldr\r\n")
}

func TestMoveSelectionRequiresSelection(t *testing.T) {
	pr := NewProject(testLibrary(t), Options{})
	t.Cleanup(pr.Close)
	_, err := pr.MoveSelectionToModel(pr.ActiveModel(), "x.ldr")
	assert.True(t, errors.Is(err, ErrNothingSelected))
	assert.Len(t, pr.Models(), 1)
}
