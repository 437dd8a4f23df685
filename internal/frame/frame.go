// Package frame holds canvas frames on their way from a receiver to the
// display loop.
package frame

import "time"

// Frame is one RGB canvas image. Pix is row-major from the top-left, three
// bytes per pixel. Producers must not touch Pix after pushing the frame.
type Frame struct {
	Width    int
	Height   int
	Pix      []byte
	Seq      uint64
	Received time.Time
	Source   string
}

// Size is the payload length expected for a w x h canvas.
func Size(w, h int) int { return w * h * 3 }

// Matches reports whether f was declared for a w x h canvas.
func (f *Frame) Matches(w, h int) bool { return f.Width == w && f.Height == h }
