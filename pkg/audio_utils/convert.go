package audio_utils

import (
	"bytes"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	wavFormatPCM = 1
	wavBitDepth  = 16
)

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

// ConvertTwoByteSamplesToWav assumes S16 encoding (or two bytes per value)
func ConvertTwoByteSamplesToWav(byteData []byte, sampleRate uint32, numChannels uint32) (result []byte, err error) {
	inputBuffer := &audio.IntBuffer{
		Data: PCMBytesToInts(byteData),
		Format: &audio.Format{
			SampleRate:  int(sampleRate),
			NumChannels: int(numChannels),
		},
		SourceBitDepth: 16,
	}
	return EncodeToWav(inputBuffer, wavBitDepth, wavFormatPCM)
}

// ConvertMulawToWav decodes telephony mu-law and writes it as PCM WAV at outputSampleRate.
// Whisper and Deepgram both take 16kHz PCM better than 8kHz mu-law.
func ConvertMulawToWav(mulawBytes []byte, inputSampleRate, outputSampleRate int) (result []byte, err error) {
	decoded := DecodeFromMulaw(mulawBytes, inputSampleRate)
	return EncodeToWav(ResampleBuffer(decoded, outputSampleRate), wavBitDepth, wavFormatPCM)
}

// EncodeToWav writes the buffer using its own sample rate and channel count.
func EncodeToWav(inputBuffer *audio.IntBuffer, bitDepth int, audioFormat int) (result []byte, err error) {
	if len(inputBuffer.Data) == 0 {
		return // Nothing to do
	}

	// wav.NewEncoder needs an io.WriteSeeker to finalize headers, so we go through an in-memory file.
	fs := afero.NewMemMapFs()
	inMemoryFilename := "in-memory-output.wav"
	inMemoryFile, err := fs.Create(inMemoryFilename)
	if err != nil {
		err = errors.Wrap(err, "cannot create in-memory wav file")
		return
	}

	sampleRate := inputBuffer.Format.SampleRate
	numChannels := inputBuffer.Format.NumChannels
	wavEncoder := wav.NewEncoder(inMemoryFile, sampleRate, bitDepth, numChannels, audioFormat)
	log.Trace().Int("int_data_length", len(inputBuffer.Data)).Int("sample_rate", sampleRate).Int("source_bit_depth", inputBuffer.SourceBitDepth).Int("output_bit_depth", bitDepth).Int("num_channels", numChannels).Int("audio_format", audioFormat).Msg("encoding int stream output as a wav")
	if err = wavEncoder.Write(inputBuffer); err != nil {
		err = errors.Wrap(err, "cannot encode byte output as wav")
		return
	}

	// Close the wavEncoder to flush any remaining data and finalize the WAV file
	if err = wavEncoder.Close(); err != nil {
		err = errors.Wrap(err, "cannot finish wav encoding")
		return
	}

	// We close and re-open the file so we can properly read-all of its contents.
	dbg(inMemoryFile.Close())
	inMemoryFileReopen, err := fs.Open(inMemoryFilename)
	if err != nil {
		err = errors.Wrap(err, "cannot reopen in-memory wav file")
		return
	}
	defer func() { dbg(inMemoryFileReopen.Close()) }()
	result, err = io.ReadAll(inMemoryFileReopen)
	if err != nil {
		err = errors.Wrap(err, "cannot read in-memory wav file")
		return
	}
	if len(result) == 0 {
		err = errors.New("wav output is empty when input was not")
	}
	return
}

// DecodeWav reads a whole WAV file into memory.
func DecodeWav(wavBytes []byte) (*audio.IntBuffer, error) {
	decoder := wav.NewDecoder(bytes.NewReader(wavBytes))
	if !decoder.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}
	intBuffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode wav pcm data")
	}
	intBuffer.SourceBitDepth = int(decoder.BitDepth)
	return intBuffer, nil
}

// InterleaveStereo builds a two channel buffer, the shorter side is padded with silence.
func InterleaveStereo(left, right []int, sampleRate int) *audio.IntBuffer {
	n := len(left)
	if len(right) > n {
		n = len(right)
	}
	data := make([]int, n*2)
	for i := 0; i < n; i++ {
		if i < len(left) {
			data[2*i] = left[i]
		}
		if i < len(right) {
			data[2*i+1] = right[i]
		}
	}
	return &audio.IntBuffer{
		Data: data,
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: 2,
		},
		SourceBitDepth: 16,
	}
}
