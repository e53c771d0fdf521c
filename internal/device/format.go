package device

import (
	"fmt"

	"github.com/vk/flowgrid/internal/tensor"
)

// channelsLast reports whether a format stores channels innermost. The
// default format is laid out like NCHW.
func channelsLast(f tensor.Format) bool { return f == tensor.FormatNHWC }

// ConvertFrom copies src into d, transposing between NCHW and NHWC layouts
// when the two formats differ and the tensor is 4-D. Shapes are always given
// in logical NCHW order; only the byte layout changes.
func (d *DeviceTensor) ConvertFrom(src *DeviceTensor) error {
	if channelsLast(src.format) == channelsLast(d.format) || len(d.shape) != 4 {
		return d.CopyFrom(src)
	}
	if src.size != d.size || src.dtype != d.dtype {
		return fmt.Errorf("convert %s to %s: %s does not match %s", src.format, d.format, src, d)
	}
	from, err := src.Bytes()
	if err != nil {
		return err
	}
	to, err := d.Bytes()
	if err != nil {
		return err
	}

	n, c, h, w := d.shape[0], d.shape[1], d.shape[2], d.shape[3]
	item := d.dtype.ItemSize()
	for in := 0; in < n; in++ {
		for ic := 0; ic < c; ic++ {
			for ih := 0; ih < h; ih++ {
				for iw := 0; iw < w; iw++ {
					nchw := ((in*c+ic)*h+ih)*w + iw
					nhwc := ((in*h+ih)*w+iw)*c + ic
					srcIdx, dstIdx := nchw, nhwc
					if channelsLast(src.format) {
						srcIdx, dstIdx = nhwc, nchw
					}
					copy(to[dstIdx*item:(dstIdx+1)*item], from[srcIdx*item:(srcIdx+1)*item])
				}
			}
		}
	}
	return nil
}
