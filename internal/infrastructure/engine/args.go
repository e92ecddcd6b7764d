package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"liveorch/internal/core/domain"
)

var errIncompleteDescriptor = errors.New("incomplete transport descriptor")

// Devices maps capture sources to ffmpeg input formats. The device
// patterns take the source id through %s.
type Devices struct {
	CameraFormat     string
	CameraDevice     string
	MicrophoneFormat string
	MicrophoneDevice string
}

func DefaultDevices() Devices {
	return Devices{
		CameraFormat:     "v4l2",
		CameraDevice:     "/dev/video%s",
		MicrophoneFormat: "alsa",
		MicrophoneDevice: "hw:%s",
	}
}

func (d Devices) input(src domain.InputSource) (format, device string) {
	if src.Kind == domain.SourceMicrophone {
		return d.MicrophoneFormat, fmt.Sprintf(d.MicrophoneDevice, src.ID)
	}
	return d.CameraFormat, fmt.Sprintf(d.CameraDevice, src.ID)
}

// RenderArgs turns a descriptor into an ffmpeg argument list. Progress is
// always written to stdout as key=value blocks.
func RenderArgs(desc *domain.TransportDescriptor, devices Devices, logLevel string) ([]string, error) {
	if desc == nil || len(desc.Inputs) == 0 {
		return nil, fmt.Errorf("%w: no inputs", errIncompleteDescriptor)
	}
	if desc.DestinationURL == "" {
		return nil, fmt.Errorf("%w: no destination", errIncompleteDescriptor)
	}
	if logLevel == "" {
		logLevel = "info"
	}

	args := []string{"-hide_banner", "-loglevel", logLevel, "-nostats", "-progress", "pipe:1"}
	if desc.Encode.HardwareAcceleration {
		args = append(args, "-hwaccel", "auto")
	}

	inputs := append([]domain.InputSource(nil), desc.Inputs...)
	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].Index < inputs[j].Index })
	audioIndex := -1
	for _, in := range inputs {
		format, device := devices.input(in)
		args = append(args, "-thread_queue_size", "512", "-f", format, "-i", device)
		if in.Kind == domain.SourceMicrophone && audioIndex < 0 {
			audioIndex = in.Index
		}
	}

	if graph := desc.FilterGraph(); graph != "" {
		if desc.VideoOutput == "" {
			return nil, fmt.Errorf("%w: filter graph without video output", errIncompleteDescriptor)
		}
		args = append(args, "-filter_complex", graph, "-map", "["+desc.VideoOutput+"]")
	} else {
		cams := desc.InputsOf(domain.SourceCamera)
		if len(cams) == 0 {
			return nil, fmt.Errorf("%w: no camera input", errIncompleteDescriptor)
		}
		args = append(args, "-map", strconv.Itoa(cams[0].Index)+":v")
	}
	if audioIndex >= 0 {
		args = append(args, "-map", strconv.Itoa(audioIndex)+":a")
	}

	args = append(args, videoArgs(desc)...)
	if audioIndex >= 0 {
		args = append(args, audioArgs(desc.Audio)...)
	}

	for _, k := range sortedKeys(desc.Metadata) {
		args = append(args, "-metadata:s:v:0", k+"="+desc.Metadata[k])
	}

	args = append(args, containerArgs(desc.Container)...)
	args = append(args, desc.ExtraArgs...)
	args = append(args, desc.DestinationURL)
	return args, nil
}

func videoArgs(desc *domain.TransportDescriptor) []string {
	e := desc.Encode
	args := []string{"-c:v", e.Codec}
	if e.Preset != "" {
		args = append(args, "-preset", e.Preset)
	}
	if e.Tune != "" {
		args = append(args, "-tune", e.Tune)
	}
	if e.Profile != "" {
		args = append(args, "-profile:v", e.Profile)
	}
	if e.Level != "" {
		args = append(args, "-level", e.Level)
	}
	// filter graphs set the output size themselves
	if len(desc.Stages) == 0 && e.Width > 0 && e.Height > 0 {
		args = append(args, "-s", fmt.Sprintf("%dx%d", e.Width, e.Height))
	}
	args = append(args,
		"-b:v", kbps(e.BitrateKbps),
		"-maxrate", kbps(e.MaxRateKbps),
		"-bufsize", kbps(e.BufferSizeKbps),
		"-r", strconv.Itoa(e.FPS),
		"-pix_fmt", "yuv420p",
	)
	if e.GOP > 0 {
		args = append(args, "-g", strconv.Itoa(e.GOP))
	}
	if e.MinKeyframeInterval > 0 {
		args = append(args, "-keyint_min", strconv.Itoa(e.MinKeyframeInterval))
	}
	return args
}

func audioArgs(a domain.AudioParams) []string {
	return []string{
		"-c:a", a.Codec,
		"-b:a", kbps(a.BitrateKbps),
		"-ar", strconv.Itoa(a.SampleRate),
		"-ac", strconv.Itoa(a.Channels),
	}
}

func containerArgs(c domain.ContainerParams) []string {
	args := []string{}
	if c.BufferMs > 0 {
		args = append(args, "-max_delay", strconv.Itoa(c.BufferMs*1000))
	}
	if c.Live && c.Format == "flv" {
		args = append(args, "-flvflags", "no_duration_filesize")
	}
	for _, k := range sortedKeys(c.Flags) {
		args = append(args, "-"+k, c.Flags[k])
	}
	return append(args, "-f", c.Format)
}

func kbps(v int) string {
	return strconv.Itoa(v) + "k"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// redactDestination hides the stream key, which is the last argument.
func redactDestination(args []string) string {
	if len(args) == 0 {
		return ""
	}
	shown := append([]string(nil), args[:len(args)-1]...)
	shown = append(shown, domain.HostOf(args[len(args)-1]))
	return strings.Join(shown, " ")
}
