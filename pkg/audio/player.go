package audio

// Player renders one audio file at a time on an output device.
//
// Play starts playback and returns without waiting for it to finish; callers
// poll Playing. Halt stops in-flight audio and is a no-op when idle.
//
// Implementations must be safe for concurrent use.
type Player interface {
	Play(path string) error
	Playing() bool
	Halt() error
}

// OutputSelector is implemented by players that can switch output device.
// The device has already been resolved and checked for output channels.
type OutputSelector interface {
	SelectOutput(dev DeviceInfo) error
}
