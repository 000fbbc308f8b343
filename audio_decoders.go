package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// errUnsupportedFormat is returned when a stream is neither WAV, MP3 nor
// Ogg Vorbis.
var errUnsupportedFormat = errors.New("unsupported audio format")

// audioDecoder is the common surface of the pure-Go decoders. Read returns
// interleaved float32 samples in [-1, 1].
type audioDecoder interface {
	Channels() int
	SampleRate() int
	// DurationUs returns the total duration, or 0 when unknown (live
	// streams, unseekable sources).
	DurationUs() int64
	// Read decodes up to len(out) samples; n may be short. Returns io.EOF
	// at end of stream.
	Read(out []float32) (int, error)
	// SeekFrame jumps to an absolute per-channel frame offset.
	SeekFrame(frame int64) error
	Seekable() bool
	Close() error
}

// audioSource is an opened byte stream plus what is known about it.
type audioSource struct {
	reader io.Reader
	closer io.Closer
	seeker io.ReadSeeker // nil for unseekable transports
	format string        // "wav", "mp3", "ogg"
}

// openAudioSource resolves url to a byte stream: http(s) GET with the given
// headers, file:// or a bare filesystem path. The format comes from the path
// extension, falling back to sniffing the stream's magic bytes.
func openAudioSource(client *http.Client, url string, headers []Header) (*audioSource, error) {
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return openHTTPSource(client, url, headers)
	case strings.HasPrefix(url, "file://"):
		return openFileSource(strings.TrimPrefix(url, "file://"))
	default:
		return openFileSource(url)
	}
}

func openFileSource(p string) (*audioSource, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	src := &audioSource{reader: f, closer: f, seeker: f}
	if src.format = formatFromPath(p); src.format == "" {
		if src.format, err = sniffFormatSeeker(f); err != nil {
			f.Close()
			return nil, err
		}
	}
	return src, nil
}

func openHTTPSource(client *http.Client, url string, headers []Header) (*audioSource, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	for _, h := range headers {
		req.Header.Add(h.Key, h.Value)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}

	src := &audioSource{reader: resp.Body, closer: resp.Body}
	if src.format = formatFromPath(url); src.format == "" {
		head := make([]byte, 12)
		n, _ := io.ReadFull(resp.Body, head)
		src.format = sniffFormat(head[:n])
		if src.format == "" {
			resp.Body.Close()
			return nil, errUnsupportedFormat
		}
		src.reader = io.MultiReader(bytes.NewReader(head[:n]), resp.Body)
	}

	// WAV decoding needs random access; a finite HTTP body is buffered
	// fully in memory to provide it. Endless streams don't do WAV.
	if src.format == "wav" {
		data, err := io.ReadAll(src.reader)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer %s: %w", url, err)
		}
		r := bytes.NewReader(data)
		src.reader = r
		src.seeker = r
		src.closer = nil
	}
	return src, nil
}

func formatFromPath(p string) string {
	// Strip query/fragment so URLs with parameters still match.
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".wav", ".wave":
		return "wav"
	case ".mp3":
		return "mp3"
	case ".ogg", ".oga":
		return "ogg"
	default:
		return ""
	}
}

func sniffFormat(head []byte) string {
	switch {
	case len(head) >= 12 && string(head[:4]) == "RIFF" && string(head[8:12]) == "WAVE":
		return "wav"
	case len(head) >= 4 && string(head[:4]) == "OggS":
		return "ogg"
	case len(head) >= 3 && string(head[:3]) == "ID3":
		return "mp3"
	case len(head) >= 2 && head[0] == 0xff && head[1]&0xe0 == 0xe0:
		return "mp3" // bare MPEG frame sync
	default:
		return ""
	}
}

func sniffFormatSeeker(rs io.ReadSeeker) (string, error) {
	head := make([]byte, 12)
	n, _ := io.ReadFull(rs, head)
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	if f := sniffFormat(head[:n]); f != "" {
		return f, nil
	}
	return "", errUnsupportedFormat
}

// newAudioDecoder builds the decoder matching the source's format.
func newAudioDecoder(src *audioSource) (audioDecoder, error) {
	switch src.format {
	case "wav":
		return newWAVDecoder(src)
	case "mp3":
		return newMP3Decoder(src)
	case "ogg":
		return newOggDecoder(src)
	default:
		return nil, errUnsupportedFormat
	}
}

// wavDecoder wraps go-audio/wav. WAV sources are always seekable here (files
// directly, HTTP bodies via the in-memory buffer).
type wavDecoder struct {
	src      *audioSource
	dec      *wav.Decoder
	buf      *audio.IntBuffer
	scale    float32
	frames   int64 // total frames, or 0 if unknown
	channels int
	rate     int
}

func newWAVDecoder(src *audioSource) (*wavDecoder, error) {
	if src.seeker == nil {
		return nil, errors.New("wav source is not seekable")
	}
	dec := wav.NewDecoder(src.seeker)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}

	d := &wavDecoder{
		src:      src,
		dec:      dec,
		channels: int(dec.NumChans),
		rate:     int(dec.SampleRate),
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: int(dec.NumChans), SampleRate: int(dec.SampleRate)},
		},
	}
	if dec.BitDepth > 0 && dec.BitDepth <= 32 {
		d.scale = 1 / float32(int64(1)<<(dec.BitDepth-1))
	} else {
		d.scale = 1.0 / (1 << 15)
	}
	if dur, err := dec.Duration(); err == nil {
		d.frames = int64(dur.Seconds() * float64(d.rate))
	}
	return d, nil
}

func (d *wavDecoder) Channels() int   { return d.channels }
func (d *wavDecoder) SampleRate() int { return d.rate }
func (d *wavDecoder) Seekable() bool  { return true }

func (d *wavDecoder) DurationUs() int64 {
	if d.frames <= 0 || d.rate <= 0 {
		return 0
	}
	return d.frames * 1e6 / int64(d.rate)
}

func (d *wavDecoder) Read(out []float32) (int, error) {
	if cap(d.buf.Data) < len(out) {
		d.buf.Data = make([]int, len(out))
	}
	d.buf.Data = d.buf.Data[:len(out)]
	n, err := d.dec.PCMBuffer(d.buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i := 0; i < n; i++ {
		out[i] = float32(d.buf.Data[i]) * d.scale
	}
	return n, nil
}

// SeekFrame restarts the decode from the top and skips forward; the wav
// decoder has no native sample-accurate seek.
func (d *wavDecoder) SeekFrame(frame int64) error {
	if _, err := d.src.seeker.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dec := wav.NewDecoder(d.src.seeker)
	dec.ReadInfo()
	if err := dec.FwdToPCM(); err != nil {
		return err
	}
	d.dec = dec

	skip := frame * int64(d.channels)
	scratch := &audio.IntBuffer{
		Format: d.buf.Format,
		Data:   make([]int, 4096),
	}
	for skip > 0 {
		want := int64(len(scratch.Data))
		if skip < want {
			scratch.Data = scratch.Data[:skip]
		}
		n, err := d.dec.PCMBuffer(scratch)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil // seek past end lands at EOF
		}
		skip -= int64(n)
	}
	return nil
}

func (d *wavDecoder) Close() error {
	if d.src.closer != nil {
		return d.src.closer.Close()
	}
	return nil
}

// mp3Decoder wraps hajimehoshi/go-mp3, which always emits 16-bit stereo.
type mp3Decoder struct {
	src  *audioSource
	dec  *mp3.Decoder
	rate int
	rem  []byte // undecoded tail when out wasn't a multiple of 4 bytes
}

func newMP3Decoder(src *audioSource) (*mp3Decoder, error) {
	dec, err := mp3.NewDecoder(src.reader)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	return &mp3Decoder{src: src, dec: dec, rate: dec.SampleRate()}, nil
}

func (d *mp3Decoder) Channels() int   { return 2 }
func (d *mp3Decoder) SampleRate() int { return d.rate }
func (d *mp3Decoder) Seekable() bool  { return d.src.seeker != nil }

func (d *mp3Decoder) DurationUs() int64 {
	if !d.Seekable() || d.rate <= 0 {
		return 0
	}
	pcmBytes := d.dec.Length() // 4 bytes per stereo frame
	if pcmBytes <= 0 {
		return 0
	}
	return pcmBytes / 4 * 1e6 / int64(d.rate)
}

func (d *mp3Decoder) Read(out []float32) (int, error) {
	want := len(out) / 2 * 4 // whole stereo frames only
	if want == 0 {
		return 0, nil
	}
	buf := make([]byte, want)
	copy(buf, d.rem)
	n, err := io.ReadFull(d.dec, buf[len(d.rem):])
	n += len(d.rem)
	d.rem = nil
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if n == 0 {
			return 0, err
		}
	}

	frames := n / 4
	d.rem = append(d.rem, buf[frames*4:n]...)
	for i := 0; i < frames*2; i++ {
		s := int16(uint16(buf[i*2]) | uint16(buf[i*2+1])<<8)
		out[i] = float32(s) / (1 << 15)
	}
	if frames == 0 {
		return 0, io.EOF
	}
	return frames * 2, nil
}

func (d *mp3Decoder) SeekFrame(frame int64) error {
	if !d.Seekable() {
		return errors.New("mp3 source is not seekable")
	}
	d.rem = nil
	_, err := d.dec.Seek(frame*4, io.SeekStart)
	return err
}

func (d *mp3Decoder) Close() error {
	if d.src.closer != nil {
		return d.src.closer.Close()
	}
	return nil
}

// oggDecoder wraps jfreymuth/oggvorbis, which emits interleaved float32
// natively.
type oggDecoder struct {
	src *audioSource
	dec *oggvorbis.Reader
}

func newOggDecoder(src *audioSource) (*oggDecoder, error) {
	var r io.Reader = src.reader
	if src.seeker != nil {
		r = src.seeker
	}
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("ogg: %w", err)
	}
	return &oggDecoder{src: src, dec: dec}, nil
}

func (d *oggDecoder) Channels() int   { return d.dec.Channels() }
func (d *oggDecoder) SampleRate() int { return d.dec.SampleRate() }
func (d *oggDecoder) Seekable() bool  { return d.src.seeker != nil }

func (d *oggDecoder) DurationUs() int64 {
	total := d.dec.Length() // per-channel frames; 0 when unseekable
	if total <= 0 || d.dec.SampleRate() <= 0 {
		return 0
	}
	return total * 1e6 / int64(d.dec.SampleRate())
}

func (d *oggDecoder) Read(out []float32) (int, error) {
	return d.dec.Read(out)
}

func (d *oggDecoder) SeekFrame(frame int64) error {
	if !d.Seekable() {
		return errors.New("ogg source is not seekable")
	}
	return d.dec.SetPosition(frame)
}

func (d *oggDecoder) Close() error {
	if d.src.closer != nil {
		return d.src.closer.Close()
	}
	return nil
}
