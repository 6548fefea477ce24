package audio

const (
	DefaultVADThreshold  = 2.22
	backgroundBufferSize = 50
	minBackgroundNoise   = 30.0
	calibrationChunks    = 5
)

// EnergyDetector classifies chunks as speech by comparing their amplitude
// against a rolling estimate of the background noise. Not safe for
// concurrent use.
type EnergyDetector struct {
	threshold        float64
	backgroundNoise  float64
	backgroundBuffer []float64
	calibrated       int
}

func NewEnergyDetector(threshold float64) *EnergyDetector {
	if threshold <= 0 {
		threshold = DefaultVADThreshold
	}
	return &EnergyDetector{
		threshold:        threshold,
		backgroundNoise:  minBackgroundNoise,
		backgroundBuffer: make([]float64, 0, backgroundBufferSize),
	}
}

// SetThreshold changes the speech/background energy ratio
func (d *EnergyDetector) SetThreshold(threshold float64) {
	if threshold > 0 {
		d.threshold = threshold
	}
}

// BackgroundNoise is the current noise floor estimate
func (d *EnergyDetector) BackgroundNoise() float64 {
	return d.backgroundNoise
}

// IsSpeech reports whether chunk stands out from the background. The first
// few chunks only calibrate the noise floor; after that only non-speech chunks
// update it.
func (d *EnergyDetector) IsSpeech(chunk []int16) bool {
	if len(chunk) == 0 {
		return false
	}
	amplitude := Amplitude(chunk)
	if d.calibrated < calibrationChunks {
		d.calibrated++
		d.updateBackgroundNoise(amplitude)
		return false
	}

	isSpeech := amplitude/d.backgroundNoise > d.threshold
	if !isSpeech {
		d.updateBackgroundNoise(amplitude)
	}
	return isSpeech
}

func (d *EnergyDetector) updateBackgroundNoise(amplitude float64) {
	if len(d.backgroundBuffer) >= backgroundBufferSize {
		d.backgroundBuffer = d.backgroundBuffer[1:]
	}
	d.backgroundBuffer = append(d.backgroundBuffer, amplitude)

	var sum float64
	for _, a := range d.backgroundBuffer {
		sum += a
	}
	d.backgroundNoise = sum / float64(len(d.backgroundBuffer))
	if d.backgroundNoise < minBackgroundNoise {
		d.backgroundNoise = minBackgroundNoise
	}
}
