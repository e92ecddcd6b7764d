package domain

import "strings"

type SourceKind string

const (
	SourceCamera     SourceKind = "camera"
	SourceMicrophone SourceKind = "microphone"
)

// InputSource is one capture device. Index is its position in the engine's
// input list, which processing stages reference.
type InputSource struct {
	Kind  SourceKind `json:"kind"`
	ID    string     `json:"id"`
	Index int        `json:"index"`
}

// ProcessingStage is one filter applied to labelled streams, e.g.
// [0:v][1:v]hstack=inputs=2[panorama].
type ProcessingStage struct {
	Filter  string   `json:"filter"`
	Options string   `json:"options,omitempty"`
	Inputs  []string `json:"inputs"`
	Output  string   `json:"output"`
}

func (s ProcessingStage) String() string {
	var b strings.Builder
	for _, in := range s.Inputs {
		b.WriteString("[" + in + "]")
	}
	b.WriteString(s.Filter)
	if s.Options != "" {
		b.WriteString("=" + s.Options)
	}
	b.WriteString("[" + s.Output + "]")
	return b.String()
}

type EncodeParams struct {
	Codec                string `json:"codec"`
	Preset               string `json:"preset"`
	Tune                 string `json:"tune,omitempty"`
	Profile              string `json:"profile"`
	Level                string `json:"level"`
	Width                int    `json:"width"`
	Height               int    `json:"height"`
	BitrateKbps          int    `json:"bitrate_kbps"`
	MaxRateKbps          int    `json:"max_rate_kbps"`
	BufferSizeKbps       int    `json:"buffer_size_kbps"`
	FPS                  int    `json:"fps"`
	GOP                  int    `json:"gop"`
	KeyframeInterval     int    `json:"keyframe_interval"`
	MinKeyframeInterval  int    `json:"min_keyframe_interval,omitempty"`
	HardwareAcceleration bool   `json:"hardware_acceleration"`
}

type AudioParams struct {
	Codec       string `json:"codec"`
	BitrateKbps int    `json:"bitrate_kbps"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
}

type ContainerParams struct {
	Format   string `json:"format"`
	Live     bool   `json:"live"`
	BufferMs int    `json:"buffer_ms"`
	// Flags are container-specific muxer flags such as movflags.
	Flags map[string]string `json:"flags,omitempty"`
}

// TransportDescriptor is handed to the transport engine once per start and
// not modified afterwards.
type TransportDescriptor struct {
	Variant ProtocolVariant   `json:"variant"`
	Inputs  []InputSource     `json:"inputs"`
	Stages  []ProcessingStage `json:"stages,omitempty"`
	// VideoOutput names the stage output carrying the final video; empty
	// means the first camera input is encoded directly.
	VideoOutput    string            `json:"video_output,omitempty"`
	Encode         EncodeParams      `json:"encode"`
	Audio          AudioParams       `json:"audio"`
	Container      ContainerParams   `json:"container"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	DestinationURL string            `json:"destination_url"`
	ExtraArgs      []string          `json:"extra_args,omitempty"`
}

// FilterGraph joins the processing stages into one graph expression.
func (d *TransportDescriptor) FilterGraph() string {
	parts := make([]string, 0, len(d.Stages))
	for _, stage := range d.Stages {
		parts = append(parts, stage.String())
	}
	return strings.Join(parts, ";")
}

func (d *TransportDescriptor) InputsOf(kind SourceKind) []InputSource {
	var out []InputSource
	for _, in := range d.Inputs {
		if in.Kind == kind {
			out = append(out, in)
		}
	}
	return out
}
