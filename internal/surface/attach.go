package surface

import (
	"github.com/saveenergy/netguardian/internal/render"
)

// Attach creates a Surface on window at width x height and installs it as
// the pipeline's sink. Geometry changes redraw through the pipeline.
func Attach(p *render.Pipeline, window Window, width, height int) (*Surface, error) {
	s := New(render.NewRasterizer(p.Buffer().Cap()))
	s.OnRedraw(p.Redraw)
	p.SetSink(s)
	if err := s.OnSurfaceCreated(width, height, window); err != nil {
		p.SetSink(nil)
		return nil, err
	}
	return s, nil
}
