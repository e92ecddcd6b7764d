package domain

// BitrateBand caps video parameters for uplinks slower than BelowKbps.
// A zero BelowKbps marks the open-ended top band.
type BitrateBand struct {
	Name       string `json:"name"`
	BelowKbps  int    `json:"below_kbps"`
	MaxBitrate int    `json:"max_bitrate_kbps"`
	MaxFPS     int    `json:"max_fps"`
	MaxHeight  int    `json:"max_height"`
}

// BitrateLadder is ordered from the slowest band to the open-ended one.
type BitrateLadder []BitrateBand

var DefaultBitrateLadder = BitrateLadder{
	{Name: "low", BelowKbps: 1000, MaxBitrate: 800, MaxFPS: 24, MaxHeight: 720},
	{Name: "medium", BelowKbps: 3000, MaxBitrate: 1500, MaxFPS: 30, MaxHeight: 1080},
	{Name: "high", BelowKbps: 10000, MaxBitrate: 3000, MaxFPS: 30, MaxHeight: 1080},
	{Name: "ultra", MaxBitrate: 5000, MaxFPS: 60, MaxHeight: 1440},
}

// AudioBitrateDivisor bounds audio bitrate to a fraction of the video bitrate.
const AudioBitrateDivisor = 20

func (l BitrateLadder) BandFor(speedKbps int) BitrateBand {
	for _, band := range l {
		if band.BelowKbps == 0 || speedKbps < band.BelowKbps {
			return band
		}
	}
	return l[len(l)-1]
}

type VideoCaps struct {
	Bitrate      int `json:"bitrate_kbps"`
	FPS          int `json:"fps"`
	Height       int `json:"height"`
	AudioBitrate int `json:"audio_bitrate_kbps"`
}

type NetworkAdjustment struct {
	SpeedKbps int       `json:"speed_kbps"`
	Band      string    `json:"band,omitempty"`
	Before    VideoCaps `json:"before"`
	After     VideoCaps `json:"after"`
	Applied   bool      `json:"applied"`
}

func (a NetworkAdjustment) Changed() bool {
	return a.Before != a.After
}

// AdjustForNetwork clamps the configuration against DefaultBitrateLadder.
func (c *StreamConfig) AdjustForNetwork(speedKbps int) NetworkAdjustment {
	return c.AdjustForNetworkWith(DefaultBitrateLadder, speedKbps)
}

// AdjustForNetworkWith lowers bitrate, fps and height to the band caps and then
// bounds audio bitrate by the capped video bitrate. Values are never raised.
// Nothing changes when adaptive bitrate is disabled.
func (c *StreamConfig) AdjustForNetworkWith(ladder BitrateLadder, speedKbps int) NetworkAdjustment {
	adj := NetworkAdjustment{SpeedKbps: speedKbps, Before: c.caps()}
	if !c.Network.AdaptiveBitrate || len(ladder) == 0 {
		adj.After = adj.Before
		return adj
	}

	band := ladder.BandFor(speedKbps)
	c.Video.Bitrate = min(c.Video.Bitrate, band.MaxBitrate)
	c.Video.FPS = min(c.Video.FPS, band.MaxFPS)
	c.Video.Height = min(c.Video.Height, band.MaxHeight)
	c.Audio.Bitrate = min(c.Audio.Bitrate, c.Video.Bitrate/AudioBitrateDivisor)

	adj.Band = band.Name
	adj.After = c.caps()
	adj.Applied = true
	return adj
}

func (c *StreamConfig) caps() VideoCaps {
	return VideoCaps{
		Bitrate:      c.Video.Bitrate,
		FPS:          c.Video.FPS,
		Height:       c.Video.Height,
		AudioBitrate: c.Audio.Bitrate,
	}
}
