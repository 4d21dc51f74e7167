package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func pcmSine(samples int, amplitude float64) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude * math.Sin(2*math.Pi*float64(i)/64.0)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

func TestLevelSilenceIsZero(t *testing.T) {
	if got := Level(make([]byte, 640)); got != 0 {
		t.Fatalf("Level(silence) = %f, want 0", got)
	}
}

func TestLevelEmptyChunk(t *testing.T) {
	if got := Level(nil); got != 0 {
		t.Fatalf("Level(nil) = %f, want 0", got)
	}
	if got := Level([]byte{0x01}); got != 0 {
		t.Fatalf("Level(odd byte) = %f, want 0", got)
	}
}

func TestLevelScalesWithAmplitude(t *testing.T) {
	quiet := Level(pcmSine(512, 0.1))
	loud := Level(pcmSine(512, 0.9))

	if quiet <= 0 || loud <= 0 {
		t.Fatalf("expected positive levels, got quiet=%f loud=%f", quiet, loud)
	}
	if loud <= quiet {
		t.Fatalf("loud level %f not above quiet level %f", loud, quiet)
	}
	if loud > 1 {
		t.Fatalf("level %f exceeds 1", loud)
	}
}

func TestRecorderProducesWav(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir, 16000)

	if err := rec.Begin("20240101" + "120000"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	chunk := pcmSine(320, 0.5)
	if err := rec.Write(chunk); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := rec.Write(chunk); err != nil {
		t.Fatalf("write: %v", err)
	}

	wavPath, err := rec.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if filepath.Ext(wavPath) != ".wav" {
		t.Fatalf("expected wav output, got %s", wavPath)
	}

	data, err := os.ReadFile(wavPath)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if len(data) != 44+2*len(chunk) {
		t.Fatalf("wav size = %d, want %d", len(data), 44+2*len(chunk))
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("bad wav header: %q", data[:12])
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
}

func TestRecorderWriteWithoutSessionIsNoop(t *testing.T) {
	rec := NewRecorder(t.TempDir(), 16000)

	if err := rec.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write without session: %v", err)
	}

	path, err := rec.Finalize()
	if err != nil {
		t.Fatalf("finalize without session: %v", err)
	}
	if path != "" {
		t.Fatalf("expected empty path, got %q", path)
	}
}
