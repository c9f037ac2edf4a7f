// Package preprocess walks captured frames, crops them to the consumer's input size and
// forwards unpacked pixels.
package preprocess

import (
	"context"
	"fmt"

	iface "PresenceSensor/interface"
	"PresenceSensor/pixel"
)

// Window is a centered crop of an outer frame. Ends are exclusive.
type Window struct {
	StartRow, EndRow int
	StartCol, EndCol int
}

// NewWindow centers an innerW x innerH window in an outerW x outerH frame.
func NewWindow(outerW, outerH, innerW, innerH int) (Window, error) {
	if innerW <= 0 || innerH <= 0 || innerW > outerW || innerH > outerH {
		return Window{}, fmt.Errorf("crop %dx%d does not fit in frame %dx%d", innerW, innerH, outerW, outerH)
	}
	startRow := (outerH - innerH) / 2
	startCol := (outerW - innerW) / 2
	return Window{
		StartRow: startRow,
		EndRow:   startRow + innerH,
		StartCol: startCol,
		EndCol:   startCol + innerW,
	}, nil
}

// Full is the window covering a whole width x height frame.
func Full(width, height int) Window {
	return Window{EndRow: height, EndCol: width}
}

func (w Window) Width() int  { return w.EndCol - w.StartCol }
func (w Window) Height() int { return w.EndRow - w.StartRow }

func (w Window) Contains(row, col int) bool {
	rowInside := row >= w.StartRow && row < w.EndRow
	colInside := col >= w.StartCol && col < w.EndCol
	return rowInside && colInside
}

// Visitor receives one in-window pixel. px holds the pixel's bytes.
type Visitor func(row, col int, px []byte) error

// Walk visits the frame in raster order and calls visit for every pixel inside w.
// Pixels outside are skipped. It returns the number of pixels visited.
func Walk(frame iface.Frame, w Window, visit Visitor) (int, error) {
	if err := frame.Validate(); err != nil {
		return 0, err
	}
	bpp := frame.Format.BytesPerPixel()

	visited := 0
	for row := 0; row < frame.Height; row++ {
		for col := 0; col < frame.Width; col++ {
			if !w.Contains(row, col) {
				continue
			}
			off := (row*frame.Width + col) * bpp
			if err := visit(row, col, frame.Data[off:off+bpp]); err != nil {
				return visited, err
			}
			visited++
		}
	}
	return visited, nil
}

// GraySink consumes unpacked gray values.
type GraySink interface {
	Accumulate(v uint8)
}

// AccumulateGray feeds every in-window pixel of a grayscale-doubled frame to sink.
func AccumulateGray(frame iface.Frame, w Window, sink GraySink) (int, error) {
	if frame.Format != iface.GrayscaleDoubled {
		return 0, fmt.Errorf("accumulate: want %v frame, got %v", iface.GrayscaleDoubled, frame.Format)
	}
	return Walk(frame, w, func(_, _ int, px []byte) error {
		sink.Accumulate(pixel.Gray(px))
		return nil
	})
}

// WordSink is a blocking input stream, typically an accelerator FIFO.
type WordSink interface {
	Write(ctx context.Context, word uint32) error
}

// StreamBiased converts every in-window pixel of an RGB565 frame to a biased input word
// and writes it to sink, one word at a time.
func StreamBiased(ctx context.Context, frame iface.Frame, w Window, sink WordSink) (int, error) {
	if frame.Format != iface.RGB565 {
		return 0, fmt.Errorf("stream: want %v frame, got %v", iface.RGB565, frame.Format)
	}
	return Walk(frame, w, func(_, _ int, px []byte) error {
		gray := pixel.RGB565ToGray(px[0], px[1])
		return sink.Write(ctx, pixel.PackBiased(gray))
	})
}
