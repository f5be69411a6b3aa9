package audio_utils

import (
	"bytes"
	"io"

	"github.com/go-audio/audio"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/pkg/errors"
)

// DecodeFromMp3 returns mono 16-bit samples; go-mp3 always decodes into stereo S16LE.
func DecodeFromMp3(rawAudioBytes []byte) (*audio.IntBuffer, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(rawAudioBytes))
	if err != nil {
		return nil, errors.Wrap(err, "mp3.NewDecoder failed")
	}
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read decoded mp3")
	}
	stereo := &audio.IntBuffer{
		Data: PCMBytesToInts(pcm),
		Format: &audio.Format{
			SampleRate:  decoder.SampleRate(),
			NumChannels: 2,
		},
		SourceBitDepth: 16,
	}
	return ToMono(stereo), nil
}

// DecodeFromFlac returns mono samples scaled to 16 bits.
func DecodeFromFlac(rawAudioBytes []byte) (*audio.IntBuffer, error) {
	stream, err := flac.New(bytes.NewReader(rawAudioBytes))
	if err != nil {
		return nil, errors.Wrap(err, "flac.New failed")
	}
	defer func() { dbg(stream.Close()) }()

	channels := int(stream.Info.NChannels)
	bitsPerSample := int(stream.Info.BitsPerSample)
	if channels == 0 {
		return nil, errors.New("flac stream has no channels")
	}

	data := make([]int, 0, stream.Info.NSamples)
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "cannot parse flac frame")
		}
		n := len(f.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			sum := 0
			for ch := 0; ch < channels; ch++ {
				sum += int(f.Subframes[ch].Samples[i])
			}
			v := sum / channels
			switch {
			case bitsPerSample > 16:
				v >>= uint(bitsPerSample - 16)
			case bitsPerSample < 16:
				v <<= uint(16 - bitsPerSample)
			}
			data = append(data, v)
		}
	}

	return &audio.IntBuffer{
		Data: data,
		Format: &audio.Format{
			SampleRate:  int(stream.Info.SampleRate),
			NumChannels: 1,
		},
		SourceBitDepth: 16,
	}, nil
}

// DecodeToMulaw turns any synthesizer output format into 8kHz telephony mu-law.
func DecodeToMulaw(rawAudioBytes []byte, format string, sampleRate int) ([]byte, error) {
	var intBuffer *audio.IntBuffer
	var err error
	switch format {
	case models.FormatMulaw:
		if sampleRate == 0 || sampleRate == TelephonySampleRate {
			return rawAudioBytes, nil
		}
		intBuffer = DecodeFromMulaw(rawAudioBytes, sampleRate)
	case models.FormatPCM:
		intBuffer = &audio.IntBuffer{
			Data:           PCMBytesToInts(rawAudioBytes),
			Format:         &audio.Format{SampleRate: sampleRate, NumChannels: 1},
			SourceBitDepth: 16,
		}
	case models.FormatMp3:
		intBuffer, err = DecodeFromMp3(rawAudioBytes)
	case models.FormatFlac:
		intBuffer, err = DecodeFromFlac(rawAudioBytes)
	case models.FormatWav:
		intBuffer, err = DecodeWav(rawAudioBytes)
	default:
		return nil, errors.Errorf("unknown audio format %s", format)
	}
	if err != nil {
		return nil, err
	}
	return EncodeToMulaw(intBuffer, TelephonySampleRate), nil
}
