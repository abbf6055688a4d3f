package vad

import (
	"errors"

	"voxline-server-golang/constants"
	"voxline-server-golang/internal/domain/vad/energy"
	"voxline-server-golang/internal/domain/vad/inter"
)

// AcquireVAD returns a VAD instance for the configured provider. Energy is
// the only built-in; the seam exists so a model-based provider can be
// added without touching call sites.
func AcquireVAD(provider string, config map[string]interface{}) (inter.VAD, error) {
	switch provider {
	case constants.VadTypeEnergy, "":
		return energy.NewEnergyVAD(config)
	default:
		return nil, errors.New("invalid vad provider: " + provider)
	}
}

func ReleaseVAD(v inter.VAD) error {
	if v == nil {
		return nil
	}
	return v.Close()
}
