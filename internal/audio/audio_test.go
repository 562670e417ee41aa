package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWAVFromPCM16(t *testing.T) {
	pcm := make([]byte, 320) // 160 samples of silence
	data, err := WAVFromPCM16(pcm, 8000)
	if err != nil {
		t.Fatalf("WAVFromPCM16 failed: %v", err)
	}

	if len(data) != 44+len(pcm) {
		t.Errorf("Expected %d bytes, got %d", 44+len(pcm), len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		t.Fatalf("Failed to read header back: %v", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		t.Errorf("Expected RIFF chunk id, got %q", header.ChunkID)
	}
	if string(header.Format[:]) != "WAVE" {
		t.Errorf("Expected WAVE format, got %q", header.Format)
	}
	if header.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", header.SampleRate)
	}
	if header.NumChannels != 1 {
		t.Errorf("Expected mono, got %d channels", header.NumChannels)
	}
	if header.BitsPerSample != 16 {
		t.Errorf("Expected 16-bit samples, got %d", header.BitsPerSample)
	}
	if header.Subchunk2Size != uint32(len(pcm)) {
		t.Errorf("Expected data size %d, got %d", len(pcm), header.Subchunk2Size)
	}
}

func TestWAVFromPCM16Errors(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		sampleRate int
	}{
		{name: "empty data", data: nil, sampleRate: 8000},
		{name: "odd length", data: []byte{0x01, 0x02, 0x03}, sampleRate: 8000},
		{name: "zero sample rate", data: []byte{0x01, 0x02}, sampleRate: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := WAVFromPCM16(tt.data, tt.sampleRate); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestEnergy(t *testing.T) {
	if e := Energy(nil); e != 0 {
		t.Errorf("Expected zero energy for empty frame, got %f", e)
	}

	silence := make([]byte, 320)
	if e := Energy(silence); e != 0 {
		t.Errorf("Expected zero energy for silence, got %f", e)
	}

	// Full-scale square wave has RMS close to 1.
	loud := make([]byte, 320)
	for i := 0; i < len(loud); i += 2 {
		binary.LittleEndian.PutUint16(loud[i:i+2], uint16(int16(32000)))
	}
	if e := Energy(loud); e < 0.9 {
		t.Errorf("Expected near-full energy, got %f", e)
	}

	if e := Energy(loud); e > 1.0 {
		t.Errorf("Energy must be normalized to [0,1], got %f", e)
	}
}
