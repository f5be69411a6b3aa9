// TLDR; Go itself cannot work with Microphone's well
// BUT it can bind with C-libraries which can do this with a bit of black-magic.
package audioio

import (
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

const MyDeviceInputChannels uint32 = 1

// MyDeviceSampleRate is the phone line rate, so no resampling is needed before mu-law.
const MyDeviceSampleRate uint32 = audio_utils.TelephonySampleRate

// ChunkDuration matches what telephony providers send over media streams.
const ChunkDuration = 20 * time.Millisecond

type microphone struct {
	device       *malgo.Device
	deviceConfig malgo.DeviceConfig
	malgoContext *malgo.AllocatedContext

	recordingStart time.Time
	recordingChan  chan models.AudioData

	// malgo calls onRecvFrames from its own thread
	mu          sync.Mutex
	pSampleData []byte
	flushedIdx  int
	stopped     bool
}

// NewMicrophone inits the microphone device,
// you should defer StopRecording
func NewMicrophone() (InputDevice, error) {
	log.Info().Msg("malgo init context (miniaudio)")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Msg(strings.Replace("malgo devices: "+message, "\n", "", -1))
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot init malgo context")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = MyDeviceInputChannels
	deviceConfig.SampleRate = MyDeviceSampleRate
	deviceConfig.Alsa.NoMMap = 1

	return &microphone{
		deviceConfig: deviceConfig,
		malgoContext: ctx,
		pSampleData:  make([]byte, 0),
	}, nil
}

func (m *microphone) chunkByteSize() int {
	return int(m.deviceConfig.SampleRate) * int(m.deviceConfig.Capture.Channels) * 2 * int(ChunkDuration/time.Millisecond) / 1000
}

// StartRecording can only be called once for NewMicrophone
// Mostly from https://github.com/gen2brain/malgo/blob/master/_examples/capture/capture.go
func (m *microphone) StartRecording(recordingChan chan models.AudioData) (err error) {
	m.recordingChan = recordingChan
	format := m.deviceConfig.Capture.Format
	if sizeInBytes := malgo.SampleSizeInBytes(format); sizeInBytes != 2 {
		return errors.Errorf("expected 2 bytes for sample %v, got %d", format, sizeInBytes)
	}

	onRecvFrames := func(pSample2, pSample []byte, framecount uint32) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.stopped {
			return
		}
		m.pSampleData = append(m.pSampleData, pSample...)
		m.flushChunks()
	}

	m.device, err = malgo.InitDevice(m.malgoContext.Context, m.deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		return errors.Wrapf(err, "cannot init malgo device with config %v", m.deviceConfig)
	}

	log.Info().Msg("malgo START recording...")
	m.recordingStart = time.Now()
	if err = m.device.Start(); err != nil {
		return errors.Wrap(err, "cannot start malgo device")
	}
	return nil
}

// flushChunks sends every complete 20ms chunk, must hold mu.
func (m *microphone) flushChunks() {
	chunkSize := m.chunkByteSize()
	for len(m.pSampleData)-m.flushedIdx >= chunkSize {
		chunk := make([]byte, chunkSize)
		copy(chunk, m.pSampleData[m.flushedIdx:m.flushedIdx+chunkSize])
		m.flushedIdx += chunkSize

		audioData := models.AudioData{
			EventType:  models.AudioInput,
			ByteData:   chunk,
			Format:     models.FormatPCM,
			SampleRate: int(m.deviceConfig.SampleRate),
			Length:     ChunkDuration,
			Trace:      models.NewTrace("microphone_client"),
		}
		select {
		case m.recordingChan <- audioData:
		default:
			// Never block the audio thread, a dropped chunk is just a glitch.
			log.Warn().Msg("recordingChan full, dropping microphone chunk")
		}
	}
}

func (m *microphone) StopRecording() (entireRecording []byte, err error) {
	log.Info().Dur("recording_duration", time.Since(m.recordingStart)).Msg("malgo STOP recording")
	if m.device != nil {
		dbg(m.device.Stop())
		m.device.Uninit()
	}
	dbg(m.malgoContext.Uninit())

	m.mu.Lock()
	m.stopped = true
	sampleData := m.pSampleData
	m.mu.Unlock()
	close(m.recordingChan)

	entireRecording, err = audio_utils.ConvertTwoByteSamplesToWav(sampleData, m.deviceConfig.SampleRate, m.deviceConfig.Capture.Channels)
	m.malgoContext.Free()
	return
}
