package render

import (
	"fmt"
	"regexp"
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{3,8}$`)

// systemColor returns the configured badge colour, or a stable generated one
// for systems that have none.
func systemColor(configured map[string]string, system string) string {
	if c, ok := configured[system]; ok && hexColor.MatchString(c) {
		return c
	}
	return colorFor(system)
}

// colorFor hashes a name onto the hue wheel with fixed saturation and
// lightness so unknown systems still get readable badges.
func colorFor(name string) string {
	var h uint32
	for _, c := range name {
		h = 31*h + uint32(c)
	}
	hue := float64(h % 360)

	r, g, b := hslToRGB(hue, 0.45, 0.42)
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// hslToRGB converts h (0-360), s and l (0-1) to 8-bit RGB.
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	h /= 360.0

	var r1, g1, b1 float64
	if s == 0 {
		r1, g1, b1 = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q

		r1 = hueToRGB(p, q, h+1.0/3.0)
		g1 = hueToRGB(p, q, h)
		b1 = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(r1 * 255), uint8(g1 * 255), uint8(b1 * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	default:
		return p
	}
}
