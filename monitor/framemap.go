/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package monitor

import (
	"io"

	"devt.de/krotik/vmpager/frame"
	"github.com/fogleman/gg"
)

/*
FrameMapColumns is the number of frames in one row of the frame map
*/
const FrameMapColumns = 16

/*
FrameMapCellSize is the size of a single frame in the frame map in pixels
*/
const FrameMapCellSize = 16

/*
frameColor returns the fill color of a frame. Free frames are grey, pinned
frames are blue, dirty frames are red, accessed frames are yellow and all
other frames are green.
*/
func frameColor(info frame.Info) (float64, float64, float64) {
	switch {
	case info.Free:
		return 0.8, 0.8, 0.8
	case info.Pinned:
		return 0.2, 0.4, 1
	case info.Dirty:
		return 0.9, 0.2, 0.2
	case info.Accessed:
		return 0.95, 0.8, 0.2
	}
	return 0.3, 0.75, 0.3
}

/*
RenderFrameMap draws a frame table snapshot as a grid of cells and writes it
as PNG image.
*/
func RenderFrameMap(w io.Writer, snapshot []frame.Info, columns int) error {
	if columns < 1 {
		columns = 1
	}

	rows := (len(snapshot) + columns - 1) / columns
	if rows == 0 {
		rows = 1
	}

	dc := gg.NewContext(columns*FrameMapCellSize, rows*FrameMapCellSize)

	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetLineWidth(1)

	for i, info := range snapshot {
		x := float64((i % columns) * FrameMapCellSize)
		y := float64((i / columns) * FrameMapCellSize)

		dc.DrawRectangle(x+1, y+1, FrameMapCellSize-2, FrameMapCellSize-2)
		dc.SetRGB(frameColor(info))
		dc.FillPreserve()
		dc.SetRGB(0.2, 0.2, 0.2)
		dc.Stroke()
	}

	return dc.EncodePNG(w)
}
