package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultSampleRate = 16000
	pcmChannels       = 1
	pcmBitDepth       = 16
)

// Recorder archives the audio that reaches the pipeline for one session,
// writing raw PCM while the session runs and wrapping it in a WAV container
// when the session ends.
type Recorder struct {
	audioDir   string
	sampleRate int

	mu        sync.Mutex
	sessionID string
	rawPath   string
	rawFile   *os.File
}

// NewRecorder creates a recorder writing under audioDir.
func NewRecorder(audioDir string, sampleRate int) *Recorder {
	if audioDir == "" {
		audioDir = filepath.Join("data", "audio")
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return &Recorder{audioDir: audioDir, sampleRate: sampleRate}
}

// Begin opens a raw PCM file for the session. Any previously open session
// file is closed and abandoned.
func (r *Recorder) Begin(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.audioDir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}

	if r.rawFile != nil {
		_ = r.rawFile.Close()
	}

	rawPath := filepath.Join(r.audioDir, sessionID+".pcm")
	rawFile, err := os.OpenFile(rawPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open raw pcm file: %w", err)
	}

	r.sessionID = sessionID
	r.rawPath = rawPath
	r.rawFile = rawFile
	return nil
}

// Write appends a chunk of raw PCM. Writes before Begin or after Finalize
// are silently discarded.
func (r *Recorder) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rawFile == nil {
		return nil
	}
	if _, err := r.rawFile.Write(pcm); err != nil {
		return fmt.Errorf("write raw pcm bytes: %w", err)
	}
	return nil
}

// Finalize closes the raw file, converts it to WAV and removes the raw
// intermediate. It returns the WAV path, or "" if nothing was recorded.
func (r *Recorder) Finalize() (string, error) {
	r.mu.Lock()
	if r.sessionID == "" || r.rawFile == nil {
		r.mu.Unlock()
		return "", nil
	}

	sessionID := r.sessionID
	rawPath := r.rawPath
	rawFile := r.rawFile

	r.sessionID = ""
	r.rawPath = ""
	r.rawFile = nil
	r.mu.Unlock()

	if err := rawFile.Close(); err != nil {
		return "", fmt.Errorf("close raw pcm file: %w", err)
	}

	wavPath := filepath.Join(r.audioDir, sessionID+".wav")
	if err := pcmToWav(rawPath, wavPath, r.sampleRate); err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}

	_ = os.Remove(rawPath)
	return wavPath, nil
}

func pcmToWav(rawPath, wavPath string, sampleRate int) error {
	pcmData, err := os.ReadFile(rawPath)
	if err != nil {
		return fmt.Errorf("read raw pcm data: %w", err)
	}

	header, err := wavHeader(len(pcmData), sampleRate, pcmChannels, pcmBitDepth)
	if err != nil {
		return fmt.Errorf("build wav header: %w", err)
	}

	out, err := os.OpenFile(wavPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open wav file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := out.Write(pcmData); err != nil {
		return fmt.Errorf("write wav payload: %w", err)
	}
	return nil
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8
	chunkSize := 36 + dataSize

	buf := bytes.NewBuffer(make([]byte, 0, 44))
	if _, err := buf.WriteString("RIFF"); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(chunkSize)); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString("WAVE"); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString("fmt "); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(16)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(1)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(channels)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(byteRate)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(blockAlign)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(bitDepth)); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString("data"); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(dataSize)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
