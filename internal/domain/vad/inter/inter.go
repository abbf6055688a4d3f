package inter

// VAD classifies PCM frames as speech or silence. Implementations keep
// per-stream state and are not safe for concurrent use unless documented.
type VAD interface {
	// IsVAD scores one frame of normalized float32 samples.
	IsVAD(pcmData []float32) (bool, error)
	// IsVADExt is IsVAD with explicit stream parameters for providers that
	// need them.
	IsVADExt(pcmData []float32, sampleRate int, frameSize int) (bool, error)
	// Reset clears accumulated state between utterances.
	Reset() error
	Close() error
}
