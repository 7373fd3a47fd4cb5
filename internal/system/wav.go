package system

import "encoding/binary"

const (
	wavHeaderSize    = 44
	bitsPerSample    = 16
	pcmFormat        = 1
	maxSampleValue   = 32767
	minSampleValue   = -32768
	fmtChunkSize     = 16
	riffChunkPadding = 36
)

// EncodeWAV renders interleaved float samples in [-1, 1] as a 16-bit PCM
// little-endian WAV file.
func EncodeWAV(samples []float64, sampleRate, numChannels int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(riffChunkPadding+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], pcmFormat)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(numChannels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	blockAlign := numChannels * bitsPerSample / 8
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, sample := range samples {
		scaled := int(sample * maxSampleValue)
		if scaled > maxSampleValue {
			scaled = maxSampleValue
		}
		if scaled < minSampleValue {
			scaled = minSampleValue
		}
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(int16(scaled)))
	}
	return buf
}
