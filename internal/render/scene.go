// Package render projects a simulation snapshot onto a display list and
// rasterizes it. Draw never mutates its inputs.
package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/smartcity/intersection-sim/internal/domain"
	"github.com/smartcity/intersection-sim/internal/simulation"
	"github.com/smartcity/intersection-sim/pkg/utils"
)

// Kind of a display list entry
type Kind string

const (
	KindRect   Kind = "rect"
	KindCircle Kind = "circle"
	KindLine   Kind = "line"
)

// Layers in paint order
const (
	LayerGround    = "ground"
	LayerRoad      = "road"
	LayerMarking   = "marking"
	LayerCrosswalk = "crosswalk"
	LayerVehicle   = "vehicle"
	LayerDemand    = "demand"
	LayerSignal    = "signal"
)

// Paint is a straight-alpha color that marshals as #rrggbb or #rrggbbaa
type Paint color.NRGBA

func (p Paint) MarshalText() ([]byte, error) {
	if p.A == 0xff {
		return []byte(fmt.Sprintf("#%02x%02x%02x", p.R, p.G, p.B)), nil
	}
	return []byte(fmt.Sprintf("#%02x%02x%02x%02x", p.R, p.G, p.B, p.A)), nil
}

func (p *Paint) UnmarshalText(text []byte) error {
	parsed, ok := ParseHex(string(text))
	if !ok {
		return fmt.Errorf("render: invalid color %q", text)
	}
	*p = parsed
	return nil
}

// WithAlpha returns p at opacity a in [0, 1]
func (p Paint) WithAlpha(a float64) Paint {
	p.A = uint8(utils.Clamp(a, 0, 1)*255 + 0.5)
	return p
}

// ParseHex parses #rgb, #rrggbb and #rrggbbaa
func ParseHex(s string) (Paint, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return Paint{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Paint{}, false
	}
	return Paint{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, true
}

func mustHex(s string) Paint {
	p, ok := ParseHex(s)
	if !ok {
		panic("render: bad palette entry " + s)
	}
	return p
}

var (
	colorGround       = mustHex("#263238")
	colorAsphalt      = mustHex("#37474f")
	colorBox          = mustHex("#455a64")
	colorDash         = mustHex("#cfd8dc")
	colorShoulder     = mustHex("#fbc02d")
	colorCrosswalk    = mustHex("#eceff1")
	colorShade        = mustHex("#000000").WithAlpha(0.3)
	colorHeadlight    = mustHex("#ffeb3b")
	colorBrakeLit     = mustHex("#ff1744")
	colorBrakeDim     = mustHex("#b71c1c")
	colorDemandRay    = mustHex("#00e676").WithAlpha(0.4)
	colorPole         = mustHex("#212121")
	colorHousing      = mustHex("#000000")
	colorLampOff      = mustHex("#333333")
	colorUnknownPaint = mustHex("#90a4ae")

	lampColors = map[domain.Color]Paint{
		domain.ColorRed:    mustHex("#ff1744"),
		domain.ColorYellow: mustHex("#ffeb3b"),
		domain.ColorGreen:  mustHex("#00e676"),
	}
	lampOrder = []domain.Color{domain.ColorRed, domain.ColorYellow, domain.ColorGreen}
)

// Reference-canvas sizes, multiplied by the geometry scale
const (
	carWidth       = 24.0
	stripePitch    = 20.0
	stripeWidth    = 12.0
	dashOn         = 20.0
	dashOff        = 30.0
	housingOffset  = 40.0
	lampRadius     = 12.0
	bloomRadius    = 60.0
	bloomRings     = 3
	shoulderWidth  = 4.0
	dashLineWidth  = 2.0
	demandRayWidth = 1.0
)

// Shape is one display list entry. Rects use X, Y as the top-left corner,
// circles as the center and lines as the start point.
type Shape struct {
	Kind    Kind    `json:"kind"`
	Layer   string  `json:"layer"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	W       float64 `json:"w,omitempty"`
	H       float64 `json:"h,omitempty"`
	R       float64 `json:"r,omitempty"`
	X2      float64 `json:"x2,omitempty"`
	Y2      float64 `json:"y2,omitempty"`
	Width   float64 `json:"width,omitempty"` // line thickness
	DashOn  float64 `json:"dash_on,omitempty"`
	DashOff float64 `json:"dash_off,omitempty"`
	Fill    Paint   `json:"fill"`
}

// Scene is an ordered display list
type Scene struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Frame  uint64  `json:"frame"`
	Shapes []Shape `json:"shapes"`
}

type builder struct {
	g      simulation.Geometry
	s      float64
	shapes []Shape
}

func (b *builder) rect(layer string, x, y, w, h float64, fill Paint) {
	b.shapes = append(b.shapes, Shape{Kind: KindRect, Layer: layer, X: x, Y: y, W: w, H: h, Fill: fill})
}

func (b *builder) circle(layer string, x, y, r float64, fill Paint) {
	b.shapes = append(b.shapes, Shape{Kind: KindCircle, Layer: layer, X: x, Y: y, R: r, Fill: fill})
}

func (b *builder) line(layer string, x1, y1, x2, y2, width float64, fill Paint, dash ...float64) {
	sh := Shape{Kind: KindLine, Layer: layer, X: x1, Y: y1, X2: x2, Y2: y2, Width: width, Fill: fill}
	if len(dash) == 2 {
		sh.DashOn, sh.DashOff = dash[0], dash[1]
	}
	b.shapes = append(b.shapes, sh)
}

// Draw builds the display list of snap on the surface described by geom
func Draw(snap simulation.Snapshot, geom simulation.Geometry) Scene {
	b := &builder{g: geom, s: geom.Scale}
	b.ground()
	b.roads()
	b.crosswalks()
	for i := range snap.Vehicles {
		b.vehicle(&snap.Vehicles[i])
	}
	for i := range snap.Vehicles {
		if snap.Vehicles[i].Demanding {
			b.demandRay(&snap.Vehicles[i])
		}
	}
	b.signals(snap.Signal)
	return Scene{
		Width:  int(geom.Width + 0.5),
		Height: int(geom.Height + 0.5),
		Frame:  snap.Frame,
		Shapes: b.shapes,
	}
}

func (b *builder) ground() {
	b.rect(LayerGround, 0, 0, b.g.Width, b.g.Height, colorGround)
}

func (b *builder) roads() {
	g := b.g
	half := g.RoadWidth / 2
	cx, cy := g.CenterX, g.CenterY

	b.rect(LayerRoad, cx-half, 0, g.RoadWidth, g.Height, colorAsphalt)
	b.rect(LayerRoad, 0, cy-half, g.Width, g.RoadWidth, colorAsphalt)
	b.rect(LayerRoad, cx-half, cy-half, g.RoadWidth, g.RoadWidth, colorBox)

	on, off, lw := dashOn*b.s, dashOff*b.s, dashLineWidth*b.s
	b.line(LayerMarking, cx, 0, cx, cy-half, lw, colorDash, on, off)
	b.line(LayerMarking, cx, cy+half, cx, g.Height, lw, colorDash, on, off)
	b.line(LayerMarking, 0, cy, cx-half, cy, lw, colorDash, on, off)
	b.line(LayerMarking, cx+half, cy, g.Width, cy, lw, colorDash, on, off)

	sw := shoulderWidth * b.s
	b.line(LayerMarking, cx-half, 0, cx-half, g.Height, sw, colorShoulder)
	b.line(LayerMarking, cx+half, 0, cx+half, g.Height, sw, colorShoulder)
	b.line(LayerMarking, 0, cy-half, g.Width, cy-half, sw, colorShoulder)
	b.line(LayerMarking, 0, cy+half, g.Width, cy+half, sw, colorShoulder)
}

func (b *builder) crosswalks() {
	g := b.g
	half := g.RoadWidth / 2
	cx, cy := g.CenterX, g.CenterY
	depth := g.CrosswalkDepth
	pitch, width := stripePitch*b.s, stripeWidth*b.s

	for i := 0.0; i < g.RoadWidth; i += pitch {
		b.rect(LayerCrosswalk, cx-half+i, cy-half-depth, width, depth, colorCrosswalk)
		b.rect(LayerCrosswalk, cx-half+i, cy+half, width, depth, colorCrosswalk)
		b.rect(LayerCrosswalk, cx-half-depth, cy-half+i, depth, width, colorCrosswalk)
		b.rect(LayerCrosswalk, cx+half, cy-half+i, depth, width, colorCrosswalk)
	}
}

// orient maps a rect given in the southbound body frame (origin at the vehicle
// center, front towards +y) onto the canvas for dir
func orient(dir domain.Direction, x, y, lx, ly, lw, lh float64) (rx, ry, rw, rh float64) {
	switch dir {
	case domain.North:
		return x - lx - lw, y - ly - lh, lw, lh
	case domain.East:
		return x + ly, y - lx - lw, lh, lw
	case domain.West:
		return x - ly - lh, y + lx, lh, lw
	default:
		return x + lx, y + ly, lw, lh
	}
}

func (b *builder) body(v *simulation.Vehicle, lx, ly, lw, lh float64, fill Paint) {
	x, y, w, h := orient(v.Direction, v.X, v.Y, lx, ly, lw, lh)
	b.rect(LayerVehicle, x, y, w, h, fill)
}

func (b *builder) vehicle(v *simulation.Vehicle) {
	s := b.s
	w, h := carWidth*s, v.Length
	paint, ok := ParseHex(v.Color)
	if !ok {
		paint = colorUnknownPaint
	}

	b.body(v, -w/2+4*s, -h/2+4*s, w, h, colorShade)
	b.body(v, -w/2, -h/2, w, h, paint)
	b.body(v, -w/2+2*s, -h/4, w-4*s, h/2, colorShade)

	b.body(v, -w/2+2*s, h/2-2*s, 6*s, 4*s, colorHeadlight)
	b.body(v, w/2-8*s, h/2-2*s, 6*s, 4*s, colorHeadlight)

	brake := colorBrakeDim
	if v.Braking() {
		brake = colorBrakeLit
	}
	b.body(v, -w/2+2*s, -h/2-1*s, 6*s, 3*s, brake)
	b.body(v, w/2-8*s, -h/2-1*s, 6*s, 3*s, brake)
}

func (b *builder) demandRay(v *simulation.Vehicle) {
	b.line(LayerDemand, v.X, v.Y, b.g.CenterX, b.g.CenterY, demandRayWidth*b.s, colorDemandRay)
}

func (b *builder) signals(state domain.SignalState) {
	g := b.g
	off := g.RoadWidth/2 + housingOffset*b.s
	cx, cy := g.CenterX, g.CenterY

	b.housing(cx-off, cy-off, state.NS) // southbound, top left
	b.housing(cx+off, cy+off, state.NS) // northbound, bottom right
	b.housing(cx-off, cy+off, state.EW) // eastbound, bottom left
	b.housing(cx+off, cy-off, state.EW) // westbound, top right
}

func (b *builder) housing(x, y float64, lit domain.Color) {
	s := b.s
	b.rect(LayerSignal, x-2*s, y, 4*s, 30*s, colorPole)
	b.rect(LayerSignal, x-25*s, y-60*s, 50*s, 100*s, colorHousing)

	lampY := []float64{y - 45*s, y - 10*s, y + 25*s}
	for i, c := range lampOrder {
		if c != lit {
			b.circle(LayerSignal, x, lampY[i], lampRadius*s, colorLampOff)
			continue
		}
		paint := lampColors[c]
		b.circle(LayerSignal, x, lampY[i], lampRadius*s, paint)
		// bloom fades outwards
		for k := 0; k < bloomRings; k++ {
			t := float64(k) / float64(bloomRings-1)
			r := utils.Lerp(bloomRadius, 2*lampRadius, t) * s
			b.circle(LayerSignal, x, lampY[i], r, paint.WithAlpha(utils.Lerp(0.05, 0.15, t)))
		}
	}
}
