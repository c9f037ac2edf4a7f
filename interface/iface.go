package iface

// Camera is the capture contract. IsFrameReady must be observed true before GetFrame,
// and a Frame must not be used after the next StartCapture.
type Camera interface {
	Configure(width, height int, format PixelFormat, mode TransferMode) error
	StartCapture() error
	IsFrameReady() bool
	GetFrame() (Frame, error)
}

// Output mirrors the presence decision on a physical or remote line.
type Output interface {
	Set(active bool) error
}

// Decision is one loop outcome, published to observers.
type Decision struct {
	Sequence  uint64  `json:"sequence"`
	Presence  bool    `json:"presence"`
	Variant   string  `json:"variant"`
	Statistic float64 `json:"statistic"`
	Timestamp int64   `json:"timestamp"`
}

// Status is a point-in-time snapshot of a running sensor.
type Status struct {
	Id        string        `json:"id"`
	Variant   string        `json:"variant"`
	State     string        `json:"state"`
	Presence  bool          `json:"presence"`
	Frames    uint64        `json:"frames"`
	StartedAt int64         `json:"startedAt"`
	Last      *Decision     `json:"last,omitempty"`
	Engine    *EngineConfig `json:"engine,omitempty"`
}
