package sound

import (
	"fmt"
	"io"
	"os"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// Each decoded sample frame is 16-bit stereo.
const bytesPerFrame = 4

type Info struct {
	SampleRate int
	Duration   time.Duration
}

// Probe decodes the MP3 header of the file and returns its sample rate and
// duration.
func Probe(path string) (*Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sound: couldn't open file: %w", err)
	}
	defer file.Close()
	return probe(file)
}

func probe(r io.ReadSeeker) (*Info, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("sound: couldn't create decoder: %w", err)
	}
	rate := decoder.SampleRate()
	if rate <= 0 {
		return nil, fmt.Errorf("sound: invalid sample rate %d", rate)
	}
	length := decoder.Length()
	if length < 0 {
		return nil, fmt.Errorf("sound: unknown length")
	}
	frames := length / bytesPerFrame
	return &Info{
		SampleRate: rate,
		Duration:   time.Duration(float64(frames) / float64(rate) * float64(time.Second)),
	}, nil
}

// Duration returns the duration of the MP3 file in seconds.
func Duration(path string) (float32, error) {
	info, err := Probe(path)
	if err != nil {
		return 0, err
	}
	return float32(info.Duration.Seconds()), nil
}
