package disc

import "strings"

// TrackType represents the general classification for a MakeMKV stream.
type TrackType string

const (
	TrackTypeUnknown  TrackType = "unknown"
	TrackTypeVideo    TrackType = "video"
	TrackTypeAudio    TrackType = "audio"
	TrackTypeSubtitle TrackType = "subtitle"
	TrackTypeData     TrackType = "data"
)

// Track captures the parsed metadata for a MakeMKV stream associated with a title.
type Track struct {
	StreamID      int
	Order         int
	Type          TrackType
	CodecID       string
	CodecShort    string
	CodecLong     string
	Language      string
	LanguageName  string
	Name          string
	ChannelCount  int
	ChannelLayout string
	BitRate       string
	Resolution    string
	Attributes    map[int]string
}

// IsAudio returns true when the track represents an audio stream.
func (t Track) IsAudio() bool {
	return t.Type == TrackTypeAudio
}

// IsForced reports whether the track is a subtitle stream whose name
// carries the "(forced only)" marker, compared case-insensitively.
func (t Track) IsForced() bool {
	if t.Type != TrackTypeSubtitle {
		return false
	}
	return strings.Contains(strings.ToLower(t.Name), "(forced only)")
}
