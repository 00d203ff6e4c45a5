// Command mvcodec encodes and decodes multiview video from the command line.
//
// Usage:
//
//	mvcodec enc [options] <input.yuv>   raw 8-bit 4:2:0 → stream file
//	mvcodec dec [options] <input.mvc>   stream file → raw 8-bit 4:2:0
//	mvcodec info <input.mvc>            list the access units of a stream
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	mvhevc "github.com/nicolegarcia/MV-HEVC"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "enc":
		err = runEnc(os.Args[2:])
	case "dec":
		err = runDec(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "mvcodec: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "mvcodec: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  mvcodec enc [options] <input.yuv>   Encode raw 8-bit 4:2:0 video
  mvcodec dec [options] <input.mvc>   Decode a stream to raw 8-bit 4:2:0
  mvcodec info <input.mvc>            List the access units of a stream

Use "-" as input to read from stdin, "-o -" to write to stdout.

Run "mvcodec <command> -h" for command-specific options.
`)
}

// openInput returns an io.ReadCloser for the given path.
// If path is "-", stdin is returned (caller should not close).
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// createOutput returns a writer for path and a function that finishes it.
// On failure the finisher removes the partial file.
func createOutput(path string) (io.Writer, func(failed bool) error, error) {
	if path == "-" {
		return os.Stdout, func(bool) error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func(failed bool) error {
		err := f.Close()
		if failed || err != nil {
			os.Remove(path)
		}
		return err
	}, nil
}

// parseSizes parses a comma separated list of positive integers.
func parseSizes(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || v < 1 {
			return nil, errors.Errorf("bad size %q in %q", f, s)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseSize parses WxH.
func parseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, errors.Errorf("bad size %q (use WxH)", s)
	}
	wi, err1 := strconv.Atoi(w)
	hi, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 {
		return 0, 0, errors.Errorf("bad size %q (use WxH)", s)
	}
	return wi, hi, nil
}

// readDepth reads one 8-bit depth map of w x h samples.
func readDepth(r io.Reader, w, h int) (*mvhevc.Frame, error) {
	buf := make([]byte, w*h)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	f := mvhevc.NewFrame(w, h)
	for i, v := range buf {
		f.Y[i] = int16(v)
	}
	return f, nil
}

// --- enc ---

func runEnc(args []string) error {
	fs := flag.NewFlagSet("enc", flag.ContinueOnError)
	size := fs.String("s", "", "picture size WxH (required)")
	frames := fs.Int("frames", 0, "frames to encode (0 = all)")
	qp := fs.Int("qp", 32, "quantisation parameter")
	intra := fs.Int("intra", 0, "intra period in frames (0 = first frame only)")
	ctu := fs.Int("ctu", 64, "CTU size 8-64")
	cavlc := fs.Bool("cavlc", false, "CAVLC slice data instead of CABAC")
	amp := fs.Bool("amp", false, "asymmetric motion partitions")
	rdoq := fs.Bool("rdoq", true, "rate-distortion optimised quantisation")
	sr := fs.Int("sr", 64, "motion search range")
	full := fs.Bool("full", false, "full motion search instead of diamond")
	dqp := fs.Int("dqp", 0, "precompress QP range")
	cuqp := fs.Bool("cuqp", false, "per CTU QP changes")
	rate := fs.Int64("rate", 0, "target bits per picture (0 = constant QP)")
	wpp := fs.Bool("wpp", false, "wavefront parallel substreams")
	cols := fs.String("tile_cols", "", "tile column widths in CTUs, comma separated")
	rows := fs.String("tile_rows", "", "tile row heights in CTUs, comma separated")
	sliceCTUs := fs.Int("slice_ctus", 0, "CTUs per slice (0 = one slice)")
	sliceBytes := fs.Int("slice_bytes", 0, "slice data bytes per slice (0 = unlimited)")
	segCTUs := fs.Int("segment_ctus", 0, "CTUs per dependent slice segment (0 = off)")
	workers := fs.Int("workers", 1, "goroutines for wavefront rows or tiles")
	view1 := fs.String("view1", "", "second view, raw 8-bit 4:2:0")
	ic := fs.Bool("ic", false, "illumination compensation for the second view")
	depth := fs.String("depth", "", "base view depth maps, 8-bit luma, for view synthesis")
	camScale := fs.Int("cam_scale", 1<<12, "depth to disparity scale")
	camOffset := fs.Int("cam_offset", 0, "depth to disparity offset")
	camPrec := fs.Int("cam_prec", 4, "depth to disparity precision")
	verbose := fs.Bool("v", false, "log every slice segment to stderr")
	output := fs.String("o", "", `output path (default: <input>.mvc, "-" for stdout)`)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("enc: missing input file\nUsage: mvcodec enc [options] <input.yuv>")
	}
	if *size == "" {
		return errors.New("enc: missing picture size (-s WxH)")
	}
	w, h, err := parseSize(*size)
	if err != nil {
		return errors.Wrap(err, "enc")
	}

	seq := mvhevc.DefaultSequenceParams(w, h)
	seq.CTUSize = *ctu
	seq.MaxTUSize = min(32, *ctu)
	seq.AMP = *amp
	seq.CUQPDelta = *cuqp || *rate > 0
	seq.WPP = *wpp
	if seq.TileColumns, err = parseSizes(*cols); err != nil {
		return errors.Wrap(err, "enc: tile_cols")
	}
	if seq.TileRows, err = parseSizes(*rows); err != nil {
		return errors.Wrap(err, "enc: tile_rows")
	}
	if *cavlc {
		seq.CAVLC = true
		seq.SignHiding = false
	}
	if *view1 != "" {
		seq.Views = 2
		seq.InterView = true
		seq.IC = *ic
		seq.VSP = *depth != ""
	}

	opts := mvhevc.DefaultEncoderOptions()
	opts.QP = *qp
	opts.RDOQ = *rdoq && !*cavlc
	opts.SearchRange = *sr
	opts.FullSearch = *full
	opts.DeltaQPRD = *dqp
	opts.TargetBits = *rate
	opts.Workers = *workers
	switch {
	case *sliceBytes > 0:
		opts.Slices = mvhevc.Partition{Mode: mvhevc.SliceModeBytes, Arg: *sliceBytes}
	case *sliceCTUs > 0:
		opts.Slices = mvhevc.Partition{Mode: mvhevc.SliceModeCTUs, Arg: *sliceCTUs}
	}
	if *segCTUs > 0 {
		seq.DependentSlices = true
		opts.Segments = mvhevc.Partition{Mode: mvhevc.SliceModeCTUs, Arg: *segCTUs}
	}
	if *verbose {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	enc, err := mvhevc.NewEncoder(seq, opts)
	if err != nil {
		return errors.Wrap(err, "enc")
	}

	inputPath := fs.Arg(0)
	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()
	var side, depthIn io.ReadCloser
	if *view1 != "" {
		if side, err = os.Open(*view1); err != nil {
			return err
		}
		defer side.Close()
	}
	if *depth != "" {
		if depthIn, err = os.Open(*depth); err != nil {
			return err
		}
		defer depthIn.Close()
	}

	outputPath := *output
	if outputPath == "" {
		outputPath = strings.TrimSuffix(inputPath, ".yuv") + ".mvc"
		if inputPath == "-" {
			outputPath = "output.mvc"
		}
	}
	out, finish, err := createOutput(outputPath)
	if err != nil {
		return err
	}
	n, bits, err := encodeFrames(enc, out, in, side, depthIn, *frames, *intra, *ic,
		mvhevc.Camera{Scale: *camScale, Offset: *camOffset, Precision: *camPrec})
	if err := finish(err != nil); err != nil {
		return err
	}
	if err != nil {
		return errors.Wrap(err, "enc")
	}
	fmt.Fprintf(os.Stderr, "Encoded %s → %s (%d frames, %d bytes of slice segments)\n", inputPath, outputPath, n, bits/8)
	return nil
}

// encodeFrames codes IPPP… with an optional second view predicted from
// the base view. It returns the number of frames and the coded bits.
func encodeFrames(enc *mvhevc.Encoder, out io.Writer, in, side, depth io.Reader, limit, intra int, ic bool, cam mvhevc.Camera) (int, int, error) {
	seq := enc.Sequence()
	sw, err := mvhevc.NewStreamWriter(out, seq)
	if err != nil {
		return 0, 0, err
	}
	bits := 0
	last := 0
	poc := 0
	for ; limit == 0 || poc < limit; poc++ {
		f, err := mvhevc.ReadFrame(in, seq.Width, seq.Height)
		if err == io.EOF {
			break
		}
		if err != nil {
			return poc, bits, errors.Wrapf(err, "frame %d", poc)
		}
		pp := &mvhevc.PictureParams{Type: mvhevc.SliceI, POC: poc}
		if poc > 0 && (intra == 0 || poc%intra != 0) {
			pp = &mvhevc.PictureParams{Type: mvhevc.SliceP, POC: poc,
				Refs: [2][]mvhevc.RefPicture{{{POC: poc - 1}}}}
		} else {
			last = poc
		}
		au, err := enc.EncodePicture(f, pp)
		if err != nil {
			return poc, bits, err
		}
		if err := sw.WriteAccessUnit(au); err != nil {
			return poc, bits, err
		}
		bits += au.Bits
		if side == nil {
			continue
		}

		sf, err := mvhevc.ReadFrame(side, seq.Width, seq.Height)
		if err != nil {
			return poc, bits, errors.Wrapf(err, "view 1 frame %d", poc)
		}
		sp := &mvhevc.PictureParams{Type: mvhevc.SliceP, POC: poc, View: 1, IC: ic, Camera: cam,
			Refs: [2][]mvhevc.RefPicture{{{POC: poc, View: 0}}}}
		if poc > last {
			sp.Refs[0] = append(sp.Refs[0], mvhevc.RefPicture{POC: poc - 1, View: 1})
		}
		if depth != nil {
			if sp.Depth, err = readDepth(depth, seq.Width, seq.Height); err != nil {
				return poc, bits, errors.Wrapf(err, "depth frame %d", poc)
			}
		}
		au, err = enc.EncodePicture(sf, sp)
		if err != nil {
			return poc, bits, err
		}
		if err := sw.WriteAccessUnit(au); err != nil {
			return poc, bits, err
		}
		bits += au.Bits
	}
	return poc, bits, nil
}

// --- dec ---

func runDec(args []string) error {
	fs := flag.NewFlagSet("dec", flag.ContinueOnError)
	output := fs.String("o", "", `base view output (default: <input>.yuv, "-" for stdout)`)
	output1 := fs.String("o1", "", "second view output (default: not written)")
	depth := fs.String("depth", "", "base view depth maps, 8-bit luma, for view synthesis")
	camScale := fs.Int("cam_scale", 1<<12, "depth to disparity scale")
	camOffset := fs.Int("cam_offset", 0, "depth to disparity offset")
	camPrec := fs.Int("cam_prec", 4, "depth to disparity precision")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("dec: missing input file\nUsage: mvcodec dec [options] <input.mvc>")
	}
	inputPath := fs.Arg(0)
	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	sr, err := mvhevc.NewStreamReader(in)
	if err != nil {
		return errors.Wrap(err, "dec")
	}
	dec, err := mvhevc.NewDecoder(sr.Sequence())
	if err != nil {
		return errors.Wrap(err, "dec")
	}
	var depthIn io.ReadCloser
	if *depth != "" {
		if depthIn, err = os.Open(*depth); err != nil {
			return err
		}
		defer depthIn.Close()
	}
	cam := mvhevc.Camera{Scale: *camScale, Offset: *camOffset, Precision: *camPrec}

	outputPath := *output
	if outputPath == "" {
		outputPath = strings.TrimSuffix(inputPath, ".mvc") + ".yuv"
		if inputPath == "-" {
			outputPath = "output.yuv"
		}
	}
	outs := make([]io.Writer, 2)
	var finishers []func(bool) error
	for v, p := range []string{outputPath, *output1} {
		if p == "" {
			continue
		}
		w, finish, err := createOutput(p)
		if err != nil {
			return err
		}
		outs[v] = w
		finishers = append(finishers, finish)
	}

	n, err := decodeStream(sr, dec, outs, depthIn, cam)
	for _, finish := range finishers {
		if ferr := finish(err != nil); ferr != nil && err == nil {
			err = ferr
		}
	}
	if err != nil {
		return errors.Wrap(err, "dec")
	}
	fmt.Fprintf(os.Stderr, "Decoded %s → %s (%d pictures)\n", inputPath, outputPath, n)
	return nil
}

func decodeStream(sr *mvhevc.StreamReader, dec *mvhevc.Decoder, outs []io.Writer, depth io.Reader, cam mvhevc.Camera) (int, error) {
	seq := sr.Sequence()
	n := 0
	write := func(frames []*mvhevc.Frame) error {
		for _, f := range frames {
			if f.View < len(outs) && outs[f.View] != nil {
				if _, err := f.WriteTo(outs[f.View]); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for {
		au, err := sr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		if au.View > 0 && seq.VSP && depth != nil {
			d, err := readDepth(depth, seq.Width, seq.Height)
			if err != nil {
				return n, errors.Wrapf(err, "depth frame %d", au.POC)
			}
			if err := dec.SetDepth(au.POC, d, cam); err != nil {
				return n, err
			}
		}
		if _, err := dec.DecodeAccessUnit(au); err != nil {
			return n, errors.Wrapf(err, "POC %d view %d", au.POC, au.View)
		}
		n++
		if err := write(dec.Output()); err != nil {
			return n, err
		}
	}
	return n, write(dec.Flush())
}

// --- info ---

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("info: missing input file\nUsage: mvcodec info <input.mvc>")
	}
	in, err := openInput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()

	sr, err := mvhevc.NewStreamReader(in)
	if err != nil {
		return errors.Wrap(err, "info")
	}
	seq := sr.Sequence()
	entropy := "cabac"
	if seq.CAVLC {
		entropy = "cavlc"
	}
	fmt.Printf("Size:       %dx%d, %d bit\n", seq.Width, seq.Height, seq.BitDepth)
	fmt.Printf("CTU:        %d (min CU %d, max TU %d)\n", seq.CTUSize, seq.MinCUSize, seq.MaxTUSize)
	fmt.Printf("Entropy:    %s\n", entropy)
	fmt.Printf("Views:      %d (inter-view %v, IC %v, VSP %v)\n", seq.Views, seq.InterView, seq.IC, seq.VSP)
	fmt.Printf("Tiles:      %v x %v, WPP %v\n", seq.TileColumns, seq.TileRows, seq.WPP)

	total := 0
	for i := 0; ; i++ {
		au, err := sr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "info")
		}
		bytes := 0
		for _, s := range au.Segments {
			bytes += len(s)
		}
		total += bytes
		fmt.Printf("AU %4d:    POC %d view %d %v QP %d, %d segments, %d bytes\n",
			i, au.POC, au.View, au.Type, au.QP, len(au.Segments), bytes)
	}
	fmt.Printf("Total:      %d bytes\n", total)
	return nil
}
