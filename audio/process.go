package audio

import "encoding/binary"

const (
	autoGain       = 4
	noiseGateLevel = 160 // ~-46 dBFS
)

// applyConstraints post-processes little-endian int16 PCM in place. Echo
// cancellation is delegated to the platform source and is not handled here.
func applyConstraints(data []byte, c Constraints) {
	if !c.AutoGainControl && !c.NoiseSuppression {
		return
	}
	for i := 0; i+1 < len(data); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(data[i:])))
		if c.NoiseSuppression && s > -noiseGateLevel && s < noiseGateLevel {
			s = 0
		}
		if c.AutoGainControl {
			s *= autoGain
			if s > 32767 {
				s = 32767
			} else if s < -32768 {
				s = -32768
			}
		}
		binary.LittleEndian.PutUint16(data[i:], uint16(int16(s)))
	}
}
