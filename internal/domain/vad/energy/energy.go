package energy

import (
	"errors"

	"voxline-server-golang/internal/util"
)

// Default sensitivity: normalized RMS above this counts as speech. Tuned
// for 16kHz telephony audio after echo conditioning.
const DefaultSensitivity = 0.02

// EnergyVAD flags a frame as speech when its normalized RMS (0..1) exceeds
// the configured sensitivity. Stateless per frame; the turn-taking layer
// owns debouncing.
type EnergyVAD struct {
	sensitivity float64
}

func NewEnergyVAD(config map[string]interface{}) (*EnergyVAD, error) {
	sensitivity := DefaultSensitivity
	if raw, ok := config["sensitivity"]; ok {
		switch v := raw.(type) {
		case float64:
			sensitivity = v
		case float32:
			sensitivity = float64(v)
		case int:
			sensitivity = float64(v)
		}
	}
	if sensitivity <= 0 || sensitivity >= 1 {
		return nil, errors.New("energy vad sensitivity must be in (0, 1)")
	}
	return &EnergyVAD{sensitivity: sensitivity}, nil
}

func (v *EnergyVAD) IsVAD(pcmData []float32) (bool, error) {
	if len(pcmData) == 0 {
		return false, nil
	}
	return util.RMS(pcmData) >= v.sensitivity, nil
}

func (v *EnergyVAD) IsVADExt(pcmData []float32, sampleRate int, frameSize int) (bool, error) {
	return v.IsVAD(pcmData)
}

func (v *EnergyVAD) Reset() error { return nil }

func (v *EnergyVAD) Close() error { return nil }
