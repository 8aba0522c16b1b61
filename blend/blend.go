// Package blend implements the alpha-compositing primitive the mixing
// worker uses to combine per-track frames: "Blend(base, overlay, [x,y,]
// opacity) -> frame" from the design's external-interfaces table. The core
// algorithm (straight-alpha over-compositing) is domain logic the spec
// itself defines, not an ambient concern delegated to a library — no
// example repo in the corpus ships a general-purpose pixel blender, so this
// is implemented directly against media.Frame's byte layout.
package blend

import "github.com/opencodewin/mediacore/media"

// Blender composites overlay on top of base at the given offset and
// opacity. A real implementation may be GPU-backed (Vulkan); Software is
// the always-available fallback.
type Blender interface {
	Blend(base, overlay *media.Frame, x, y int, opacity float64) (*media.Frame, error)
	Name() string
}

// Software is the CPU fallback Blender: straight-alpha compositing over the
// destination, scaled by the per-call opacity argument clamped to [0,1]. The
// overlay frame's own Opacity field is not consulted; callers pass it as the
// opacity argument.
type Software struct{}

// Name identifies this backend for logging.
func (Software) Name() string { return "software" }

// Blend composites overlay onto a copy of base at pixel offset (x,y),
// scaling overlay's contribution by opacity. Pixels of overlay that fall
// outside base's bounds are clipped. Channel 3 of each RGBA pixel is used
// as the per-pixel alpha; INT16 samples are blended as big-endian 16-bit
// integers and FLOAT32 samples as big-endian 32-bit unsigned fixed-point
// values, all through the same normalized-alpha math.
func (Software) Blend(base, overlay *media.Frame, x, y int, opacity float64) (*media.Frame, error) {
	if base == nil {
		return overlay.Clone(), nil
	}
	out := base.Clone()
	if overlay == nil || opacity <= 0 {
		return out, nil
	}
	if opacity > 1 {
		opacity = 1
	}

	es := base.Type.ElementSize()
	maxVal := elementMax(base.Type)

	for sy := 0; sy < overlay.Height; sy++ {
		dy := y + sy
		if dy < 0 || dy >= out.Height {
			continue
		}
		for sx := 0; sx < overlay.Width; sx++ {
			dx := x + sx
			if dx < 0 || dx >= out.Width {
				continue
			}
			sOff := (sy*overlay.Width + sx) * 4 * es
			dOff := (dy*out.Width + dx) * 4 * es

			srcAlpha := readNormalized(overlay.Pix, sOff+3*es, es, maxVal) * opacity
			if srcAlpha <= 0 {
				continue
			}
			for c := 0; c < 3; c++ {
				s := readNormalized(overlay.Pix, sOff+c*es, es, maxVal)
				d := readNormalized(out.Pix, dOff+c*es, es, maxVal)
				mixed := s*srcAlpha + d*(1-srcAlpha)
				writeNormalized(out.Pix, dOff+c*es, es, maxVal, mixed)
			}
			dA := readNormalized(out.Pix, dOff+3*es, es, maxVal)
			outA := srcAlpha + dA*(1-srcAlpha)
			writeNormalized(out.Pix, dOff+3*es, es, maxVal, outA)
		}
	}
	return out, nil
}

func elementMax(t media.ElementType) float64 {
	switch t {
	case media.ElementINT16:
		return 65535
	case media.ElementFLOAT32:
		return 1
	default:
		return 255
	}
}

func readNormalized(buf []byte, off, es int, maxVal float64) float64 {
	switch es {
	case 1:
		return float64(buf[off]) / maxVal
	case 2:
		v := uint16(buf[off])<<8 | uint16(buf[off+1])
		return float64(v) / maxVal
	default: // 4 bytes: treat as a simple fixed-point float-in-byte encoding
		v := uint32(buf[off])<<24 | uint32(buf[off+1])<<16 | uint32(buf[off+2])<<8 | uint32(buf[off+3])
		return float64(v) / float64(1<<32-1)
	}
}

func writeNormalized(buf []byte, off, es int, maxVal, v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	switch es {
	case 1:
		buf[off] = byte(v * maxVal)
	case 2:
		u := uint16(v * maxVal)
		buf[off] = byte(u >> 8)
		buf[off+1] = byte(u)
	default:
		u := uint32(v * float64(1<<32-1))
		buf[off] = byte(u >> 24)
		buf[off+1] = byte(u >> 16)
		buf[off+2] = byte(u >> 8)
		buf[off+3] = byte(u)
	}
}
