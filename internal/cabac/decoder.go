package cabac

import (
	"errors"

	"github.com/nicolegarcia/MV-HEVC/internal/bitio"
)

// ErrDesync reports that the arithmetic decoder did not end on the expected
// stop pattern, i.e. encoder and decoder disagreed on the bin sequence.
var ErrDesync = errors.New("cabac: stream desynchronised")

// Decoder is the binary arithmetic decoder matching Encoder.
type Decoder struct {
	r          *bitio.Reader
	rng        uint32
	value      uint32
	bitsNeeded int
}

// NewDecoder creates a Decoder reading r and starts it.
func NewDecoder(r *bitio.Reader) *Decoder {
	d := &Decoder{r: r}
	d.Start()
	return d
}

// Start loads the first bytes of a substream.
func (d *Decoder) Start() {
	d.rng = 510
	d.bitsNeeded = -8
	d.value = uint32(d.r.ReadU8())<<8 | uint32(d.r.ReadU8())
}

// Reset switches to a new substream reader and starts decoding it.
func (d *Decoder) Reset(r *bitio.Reader) {
	d.r = r
	d.Start()
}

// DecodeBin decodes one bin with the adaptive model ctx.
func (d *Decoder) DecodeBin(ctx *Context) int {
	lps := uint32(rangeTabLPS[ctx.State()][(d.rng>>6)-4])
	d.rng -= lps
	scaled := d.rng << 7
	if d.value < scaled {
		bin := ctx.MPS()
		ctx.Update(bin)
		if scaled < 256<<7 {
			d.rng = scaled >> 6
			d.value += d.value
			d.bitsNeeded++
			if d.bitsNeeded == 0 {
				d.bitsNeeded = -8
				d.value += uint32(d.r.ReadU8())
			}
		}
		return bin
	}
	bin := 1 - ctx.MPS()
	n := int(renormTable[lps>>3])
	d.value = (d.value - scaled) << uint(n)
	d.rng = lps << uint(n)
	ctx.Update(bin)
	d.bitsNeeded += n
	if d.bitsNeeded >= 0 {
		d.value += uint32(d.r.ReadU8()) << uint(d.bitsNeeded)
		d.bitsNeeded -= 8
	}
	return bin
}

// DecodeBypass decodes an equiprobable bin.
func (d *Decoder) DecodeBypass() int {
	d.value += d.value
	d.bitsNeeded++
	if d.bitsNeeded >= 0 {
		d.bitsNeeded = -8
		d.value += uint32(d.r.ReadU8())
	}
	scaled := d.rng << 7
	if d.value >= scaled {
		d.value -= scaled
		return 1
	}
	return 0
}

// DecodeBypassBins decodes n bypass bins, MSB first.
func (d *Decoder) DecodeBypassBins(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<1 | uint32(d.DecodeBypass())
	}
	return v
}

// DecodeTerminate decodes the terminating bin.
func (d *Decoder) DecodeTerminate() int {
	d.rng -= 2
	scaled := d.rng << 7
	if d.value >= scaled {
		return 1
	}
	if scaled < 256<<7 {
		d.rng = scaled >> 6
		d.value += d.value
		d.bitsNeeded++
		if d.bitsNeeded == 0 {
			d.bitsNeeded = -8
			d.value += uint32(d.r.ReadU8())
		}
	}
	return 0
}

// Finish checks the stop pattern after a terminating bin equal to one and
// leaves the reader on the following byte boundary.
func (d *Decoder) Finish() error {
	last := d.r.PeekPreviousByte()
	if (uint32(last)<<uint(8+d.bitsNeeded))&0xff != 0x80 {
		return ErrDesync
	}
	if err := d.r.Err(); err != nil {
		return err
	}
	return nil
}
