// Converts call audio captures (raw mu-law media payloads, provider mp3 / flac recordings) to PCM WAV,
// so they can be listened to or fed into a transcriber by hand.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/petrzlen/vocode-telephony/internal/utils"
	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	wavBitDepth  = 16
	wavFormatPCM = 1
)

func main() {
	format := flag.String("format", "", "input format: mulaw, mp3, flac or wav, guessed from the extension when empty")
	inputRate := flag.Int("in-rate", audio_utils.TelephonySampleRate, "sample rate of headerless mu-law input")
	outputRate := flag.Int("out-rate", 16000, "sample rate of the output wav")
	isBase64 := flag.Bool("base64", false, "input is base64, e.g. a media event payload")
	output := flag.String("o", "", "output path, defaults to the input path with .wav")
	flag.Parse()
	utils.SetupZerolog(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: convert [flags] <input>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	inputPath := flag.Arg(0)
	if *format == "" {
		*format = guessFormat(inputPath)
	}
	if *output == "" {
		*output = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".wav"
	}

	raw, err := os.ReadFile(inputPath)
	ftl(err)
	if *isBase64 {
		raw, err = base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		ftl(errors.Wrap(err, "cannot decode base64 input"))
	}

	wavBytes, err := convertToWav(raw, *format, *inputRate, *outputRate)
	ftl(err)
	ftl(os.WriteFile(*output, wavBytes, 0644))
	log.Info().Str("input", inputPath).Str("format", *format).Str("output", *output).Int("size", len(wavBytes)).Msg("converted")
}

func guessFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return models.FormatMp3
	case ".flac":
		return models.FormatFlac
	case ".wav":
		return models.FormatWav
	default:
		return models.FormatMulaw
	}
}

func convertToWav(raw []byte, format string, inputRate int, outputRate int) ([]byte, error) {
	if format == models.FormatMulaw {
		return audio_utils.ConvertMulawToWav(raw, inputRate, outputRate)
	}

	var intBuffer *audio.IntBuffer
	var err error
	switch format {
	case models.FormatMp3:
		intBuffer, err = audio_utils.DecodeFromMp3(raw)
	case models.FormatFlac:
		intBuffer, err = audio_utils.DecodeFromFlac(raw)
	case models.FormatWav:
		intBuffer, err = audio_utils.DecodeWav(raw)
	default:
		return nil, errors.Errorf("unknown input format %s", format)
	}
	if err != nil {
		return nil, err
	}
	mono := audio_utils.ToMono(intBuffer)
	return audio_utils.EncodeToWav(audio_utils.ResampleBuffer(mono, outputRate), wavBitDepth, wavFormatPCM)
}

func ftl(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("sth essential failed")
	}
}
