// Package mvhevc provides a pure Go multiview video encoder and decoder in
// the style of HEVC and its 3D extension.
//
// Each picture of each view is coded as one or more slices split into
// slice segments, with CABAC or CAVLC entropy coding, tiles, wavefront
// substreams and dependent segments. Inter pictures use merge and AMVP
// motion, and views after the first can predict from the base view with
// disparity-compensated prediction, illumination compensation and view
// synthesis from a depth map.
//
// Basic usage for encoding:
//
//	seq := mvhevc.DefaultSequenceParams(1920, 1080)
//	enc, err := mvhevc.NewEncoder(seq, mvhevc.DefaultEncoderOptions())
//	au, err := enc.EncodePicture(frame, &mvhevc.PictureParams{Type: mvhevc.SliceI})
//
// Basic usage for decoding:
//
//	dec, err := mvhevc.NewDecoder(seq)
//	frame, err := dec.DecodeAccessUnit(au)
package mvhevc
