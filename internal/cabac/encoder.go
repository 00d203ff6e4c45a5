package cabac

import "github.com/nicolegarcia/MV-HEVC/internal/bitio"

// BinEncoder codes bins. Encoder produces a real arithmetic-coded stream;
// Counter only estimates its length. Both adapt the contexts they are given
// identically.
type BinEncoder interface {
	EncodeBin(bin int, ctx *Context)
	EncodeBypass(bin int)
	EncodeBypassBins(v uint32, n int)
	EncodeTerminate(bin int)
	Finish()
	// FracBits returns the bits produced so far in 1/32768 bit units.
	FracBits() uint64
}

// Encoder is the binary arithmetic encoder.
//
// low holds the pending interval base with bitsLeft free positions before a
// byte must be emitted. Bytes equal to 0xff are held back (numBuffered)
// until it is known whether a later carry propagates into them.
type Encoder struct {
	sink         bitio.Sink
	low          uint32
	rng          uint32
	bitsLeft     int
	numBuffered  int
	bufferedByte uint32
}

// NewEncoder creates an Encoder writing to sink and starts it.
func NewEncoder(sink bitio.Sink) *Encoder {
	e := &Encoder{sink: sink}
	e.Start()
	return e
}

// Start resets the coding interval. It is called at the start of every
// substream.
func (e *Encoder) Start() {
	e.low = 0
	e.rng = 510
	e.bitsLeft = 23
	e.numBuffered = 0
	e.bufferedByte = 0xff
}

// SetSink redirects output, keeping the coder state.
func (e *Encoder) SetSink(sink bitio.Sink) {
	e.sink = sink
}

// EncodeBin codes bin with the adaptive model ctx.
func (e *Encoder) EncodeBin(bin int, ctx *Context) {
	lps := uint32(rangeTabLPS[ctx.State()][(e.rng>>6)&3])
	e.rng -= lps
	if bin != ctx.MPS() {
		n := int(renormTable[lps>>3])
		e.low = (e.low + e.rng) << uint(n)
		e.rng = lps << uint(n)
		e.bitsLeft -= n
		ctx.Update(bin)
	} else {
		ctx.Update(bin)
		if e.rng >= 256 {
			return
		}
		e.low <<= 1
		e.rng <<= 1
		e.bitsLeft--
	}
	e.testAndWriteOut()
}

// EncodeBypass codes an equiprobable bin.
func (e *Encoder) EncodeBypass(bin int) {
	e.low <<= 1
	if bin != 0 {
		e.low += e.rng
	}
	e.bitsLeft--
	e.testAndWriteOut()
}

// EncodeBypassBins codes the n low bits of v, MSB first, as bypass bins.
func (e *Encoder) EncodeBypassBins(v uint32, n int) {
	for n > 8 {
		n -= 8
		pattern := v >> uint(n)
		e.low <<= 8
		e.low += e.rng * pattern
		v -= pattern << uint(n)
		e.bitsLeft -= 8
		e.testAndWriteOut()
	}
	e.low <<= uint(n)
	e.low += e.rng * v
	e.bitsLeft -= n
	e.testAndWriteOut()
}

// EncodeTerminate codes the terminating bin used for end-of-slice and
// end-of-substream signalling.
func (e *Encoder) EncodeTerminate(bin int) {
	e.rng -= 2
	if bin != 0 {
		e.low += e.rng
		e.low <<= 7
		e.rng = 2 << 7
		e.bitsLeft -= 7
	} else if e.rng >= 256 {
		return
	} else {
		e.low <<= 1
		e.rng <<= 1
		e.bitsLeft--
	}
	e.testAndWriteOut()
}

// Finish flushes the interval. The caller appends the stop bit and byte
// alignment afterwards.
func (e *Encoder) Finish() {
	if e.low>>uint(32-e.bitsLeft) != 0 {
		e.sink.WriteBits(e.bufferedByte+1, 8)
		for e.numBuffered > 1 {
			e.sink.WriteBits(0x00, 8)
			e.numBuffered--
		}
		e.low -= 1 << uint(32-e.bitsLeft)
	} else {
		if e.numBuffered > 0 {
			e.sink.WriteBits(e.bufferedByte, 8)
		}
		for e.numBuffered > 1 {
			e.sink.WriteBits(0xff, 8)
			e.numBuffered--
		}
	}
	e.sink.WriteBits(e.low>>8, 24-e.bitsLeft)
}

// NumWrittenBits returns the exact number of bits the stream would occupy
// if it were finished now, excluding the terminating flush.
func (e *Encoder) NumWrittenBits() int {
	return e.sink.NumWrittenBits() + 8*e.numBuffered + 23 - e.bitsLeft
}

// FracBits implements BinEncoder.
func (e *Encoder) FracBits() uint64 {
	return uint64(e.NumWrittenBits()) << FracShift
}

func (e *Encoder) testAndWriteOut() {
	if e.bitsLeft < 12 {
		e.writeOut()
	}
}

// writeOut moves the top byte of low to the output, propagating a carry
// into the held back bytes.
func (e *Encoder) writeOut() {
	lead := e.low >> uint(24-e.bitsLeft)
	e.bitsLeft += 8
	e.low &= 0xffffffff >> uint(e.bitsLeft)
	if lead == 0xff {
		e.numBuffered++
		return
	}
	if e.numBuffered > 0 {
		carry := lead >> 8
		b := e.bufferedByte + carry
		e.bufferedByte = lead & 0xff
		e.sink.WriteBits(b, 8)
		b = (0xff + carry) & 0xff
		for e.numBuffered > 1 {
			e.sink.WriteBits(b, 8)
			e.numBuffered--
		}
		return
	}
	e.numBuffered = 1
	e.bufferedByte = lead
}

// Counter estimates the cost of bins without producing output. Contexts are
// adapted exactly as Encoder adapts them.
type Counter struct {
	frac uint64
}

// Reset clears the accumulated estimate.
func (c *Counter) Reset() { c.frac = 0 }

// EncodeBin implements BinEncoder.
func (c *Counter) EncodeBin(bin int, ctx *Context) {
	c.frac += uint64(ctx.Bits(bin))
	ctx.Update(bin)
}

// EncodeBypass implements BinEncoder.
func (c *Counter) EncodeBypass(int) { c.frac += FracOne }

// EncodeBypassBins implements BinEncoder.
func (c *Counter) EncodeBypassBins(_ uint32, n int) { c.frac += uint64(n) * FracOne }

// EncodeTerminate implements BinEncoder.
func (c *Counter) EncodeTerminate(bin int) {
	c.frac += uint64(entropyBits[126^bin])
}

// Finish implements BinEncoder.
func (c *Counter) Finish() {}

// FracBits implements BinEncoder.
func (c *Counter) FracBits() uint64 { return c.frac }
