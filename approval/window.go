package approval

import (
	"context"
)

// Window is a screen rectangle in pixels.
type Window struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Geometry is the fixed size of the approval popup and its offset from the
// window that triggered it.
type Geometry struct {
	Width   int `long:"width" description:"Width of the approval popup"`
	Height  int `long:"height" description:"Height of the approval popup"`
	OffsetX int `long:"offsetx" description:"Horizontal offset of the popup from the current window"`
	OffsetY int `long:"offsety" description:"Vertical offset of the popup from the current window"`
}

// DefaultGeometry returns the default popup geometry.
func DefaultGeometry() Geometry {
	return Geometry{
		Width:   360,
		Height:  600,
		OffsetX: 80,
		OffsetY: 80,
	}
}

// PopupWindow places a popup of fixed size offset from current.
func (g Geometry) PopupWindow(current Window) Window {
	return Window{
		Left:   current.Left + g.OffsetX,
		Top:    current.Top + g.OffsetY,
		Width:  g.Width,
		Height: g.Height,
	}
}

// Opener brings up the approval surface.
type Opener interface {
	// Open shows the surface at url in the given window.
	Open(ctx context.Context, url string, window Window) error
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, url string, window Window) error

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, url string,
	window Window) error {

	return f(ctx, url, window)
}

// LogOpener only logs the surface URL. A UI polling the control channel
// picks the approval up from there.
type LogOpener struct{}

// A compile-time check to ensure LogOpener implements Opener.
var _ Opener = LogOpener{}

// Open implements the Opener interface.
func (LogOpener) Open(_ context.Context, url string, window Window) error {
	log.Infof("Approval needed at %v (%dx%d+%d+%d)", url, window.Width,
		window.Height, window.Left, window.Top)

	return nil
}
