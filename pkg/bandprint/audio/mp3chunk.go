package audio

const (
	// maxPrimerFrames bounds how many frames of earlier chunks are decoded
	// again ahead of each chunk.
	maxPrimerFrames = 32
	maxPending      = 8 << 10
)

var (
	mpeg1L3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mpeg2L3Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
	sampleRates     = map[byte][3]int{
		3: {44100, 48000, 32000}, // MPEG-1
		2: {22050, 24000, 16000}, // MPEG-2
		0: {11025, 12000, 8000},  // MPEG-2.5
	}
)

type mp3Frame struct {
	offset  int
	length  int
	samples int
	// dataBegin is main_data_begin: how many main data bytes the frame
	// borrows from the frames before it. dataSize is the main data the
	// frame itself carries, counted the way go-mp3 counts it.
	dataBegin int
	dataSize  int
}

// parseMP3Header reads a Layer III frame header and returns the frame
// length in bytes and the samples per channel it decodes to.
func parseMP3Header(b []byte) (length, samples int, ok bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return 0, 0, false
	}
	version := (b[1] >> 3) & 0x3
	layer := (b[1] >> 1) & 0x3
	if version == 1 || layer != 1 {
		return 0, 0, false
	}
	rates, ok := sampleRates[version]
	if !ok {
		return 0, 0, false
	}
	rateIdx := (b[2] >> 2) & 0x3
	if rateIdx == 3 {
		return 0, 0, false
	}
	sampleRate := rates[rateIdx]
	padding := int((b[2] >> 1) & 0x1)

	bitrateIdx := b[2] >> 4
	if version == 3 {
		kbps := mpeg1L3Bitrates[bitrateIdx]
		if kbps == 0 {
			return 0, 0, false
		}
		return 144*kbps*1000/sampleRate + padding, 1152, true
	}
	kbps := mpeg2L3Bitrates[bitrateIdx]
	if kbps == 0 {
		return 0, 0, false
	}
	return 72*kbps*1000/sampleRate + padding, 576, true
}

// sideInfoSpan locates the side info of a frame: it starts after the
// header and the optional CRC.
func sideInfoSpan(frame []byte) (offset, size int, mpeg1 bool) {
	mpeg1 = (frame[1]>>3)&0x3 == 3
	mono := frame[3]>>6 == 3

	offset = 4
	if frame[1]&0x1 == 0 {
		offset += 2
	}
	switch {
	case mpeg1 && mono:
		size = 17
	case mpeg1:
		size = 32
	case mono:
		size = 9
	default:
		size = 17
	}
	return offset, size, mpeg1
}

// mainDataLayout reads main_data_begin from the side info of a complete
// frame and sizes its main data.
func mainDataLayout(frame []byte) (begin, size int) {
	offset, sideInfo, mpeg1 := sideInfoSpan(frame)
	if len(frame) < offset+sideInfo {
		return 0, 0
	}
	length := len(frame)
	if mpeg1 {
		begin = int(frame[offset])<<1 | int(frame[offset+1]>>7)
	} else {
		begin = int(frame[offset])
		// go-mp3 halves the MPEG-1 size formula, which can drop the
		// padding byte.
		version := (frame[1] >> 3) & 0x3
		bitrate := mpeg2L3Bitrates[frame[2]>>4] * 1000
		rate := sampleRates[version][(frame[2]>>2)&0x3]
		padding := int((frame[2] >> 1) & 0x1)
		length = (144*bitrate/rate + padding) >> 1
	}
	return begin, length - offset - sideInfo
}

// muteFrame clears everything in the side info but main_data_begin, so the
// frame decodes to silence without reading its main data while its bytes
// still feed the reservoir.
func muteFrame(frame []byte) {
	offset, sideInfo, mpeg1 := sideInfoSpan(frame)
	if len(frame) < offset+sideInfo {
		return
	}
	from := offset + 1
	if mpeg1 {
		frame[from] &= 0x80
		from++
	}
	clear(frame[from : offset+sideInfo])
}

// splitFrames returns the complete frames in buf. Before the first frame
// is locked in, a candidate header must be followed by another valid header
// (when the buffer reaches that far).
func splitFrames(buf []byte) []mp3Frame {
	var frames []mp3Frame
	for i := 0; i+4 <= len(buf); {
		length, samples, ok := parseMP3Header(buf[i:])
		if !ok || length <= 4 {
			if len(frames) > 0 {
				break
			}
			i++
			continue
		}
		next := i + length
		if next > len(buf) {
			break
		}
		if len(frames) == 0 && next+4 <= len(buf) {
			if _, _, ok := parseMP3Header(buf[next:]); !ok {
				i++
				continue
			}
		}
		begin, size := mainDataLayout(buf[i:next])
		frames = append(frames, mp3Frame{
			offset:    i,
			length:    length,
			samples:   samples,
			dataBegin: begin,
			dataSize:  size,
		})
		i = next
	}
	return frames
}

// MP3ChunkDecoder decodes an MP3 byte stream delivered in arbitrary chunks.
// Bytes after the last complete frame are carried into the next call, and
// the final frames of each chunk are replayed ahead of the next one so that
// frames borrowing from the bit reservoir decode cleanly. The samples of
// replayed frames are discarded. It is not safe for concurrent use.
type MP3ChunkDecoder struct {
	pending       []byte
	primer        []byte
	primerFrames  []mp3Frame
	primerSamples int
}

func NewMP3ChunkDecoder() *MP3ChunkDecoder {
	return &MP3ChunkDecoder{}
}

func (d *MP3ChunkDecoder) Decode(chunk []byte) ([]float32, error) {
	buf := make([]byte, 0, len(d.pending)+len(chunk))
	buf = append(buf, d.pending...)
	buf = append(buf, chunk...)

	frames := splitFrames(buf)
	if len(frames) == 0 {
		d.pending = tail(buf, maxPending)
		return nil, nil
	}

	first, last := frames[0], frames[len(frames)-1]
	end := last.offset + last.length
	d.pending = tail(buf[end:], maxPending)

	input := make([]byte, 0, len(d.primer)+end-first.offset)
	input = append(input, d.primer...)
	input = append(input, buf[first.offset:end]...)
	drop := d.primerSamples

	all := make([]mp3Frame, 0, len(d.primerFrames)+len(frames))
	all = append(all, d.primerFrames...)
	for _, f := range frames {
		f.offset += len(d.primer) - first.offset
		all = append(all, f)
	}
	d.setPrimer(input, all[primerStart(all):])

	// Frames that cannot reach their reservoir, such as the first frames
	// after joining a live stream, would decode garbage that go-mp3 may
	// reject outright. The primer above keeps the unmuted bytes.
	for i, ok := range decodable(all) {
		if !ok {
			f := all[i]
			muteFrame(input[f.offset : f.offset+f.length])
		}
	}

	samples, err := DecodeMP3(input)
	if err != nil {
		d.primer, d.primerFrames, d.primerSamples = nil, nil, 0
		return nil, err
	}
	if drop >= len(samples) {
		return nil, nil
	}
	return samples[drop:], nil
}

func (d *MP3ChunkDecoder) setPrimer(input []byte, keep []mp3Frame) {
	base := keep[0].offset
	d.primer = append([]byte(nil), input[base:]...)
	d.primerFrames = make([]mp3Frame, len(keep))
	d.primerSamples = 0
	for i, f := range keep {
		f.offset -= base
		d.primerFrames[i] = f
		d.primerSamples += f.samples
	}
}

// primerStart returns where the shortest replayable tail of frames begins:
// decoded on its own, its last two frames must find all the reservoir bytes
// they borrow, so the decoder state is exact when the next chunk starts.
func primerStart(frames []mp3Frame) int {
	for n := 2; n <= min(len(frames), maxPrimerFrames); n++ {
		if reservoirFilled(frames[len(frames)-n:]) {
			return len(frames) - n
		}
	}
	return max(0, len(frames)-maxPrimerFrames)
}

// reservoirFilled reports whether the last two frames decode from real
// main data when frames are decoded on their own.
func reservoirFilled(frames []mp3Frame) bool {
	ok := decodable(frames)
	return ok[len(ok)-1] && ok[len(ok)-2]
}

// decodable replays the decoder's reservoir bookkeeping over frames. A frame
// that finds too few bytes still adds its own bytes to the reservoir.
func decodable(frames []mp3Frame) []bool {
	ok := make([]bool, len(frames))
	ok[0] = frames[0].dataBegin == 0
	avail := frames[0].dataSize
	for i, f := range frames[1:] {
		ok[i+1] = f.dataBegin <= avail
		if ok[i+1] {
			avail = f.dataBegin + f.dataSize
		} else {
			avail += f.dataSize
		}
	}
	return ok
}

// Reset forgets carried bytes, for reuse on a new stream.
func (d *MP3ChunkDecoder) Reset() {
	d.pending, d.primer, d.primerFrames, d.primerSamples = nil, nil, nil, 0
}

func tail(b []byte, n int) []byte {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return append([]byte(nil), b...)
}
