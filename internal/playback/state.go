package playback

import "github.com/Dakshin211/soulsync-vibes-connect/internal/domain"

type State uint8

const (
	Idle State = iota
	Paused
	Playing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// Next — порядок переключения off → all → one → off.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatOff
	}
}

type Direction int8

const (
	Previous Direction = -1
	Next     Direction = 1
)

// ChangeKind — битовая маска изменившихся частей состояния.
type ChangeKind uint8

const (
	ChangedSong ChangeKind = 1 << iota
	ChangedPlaying
	ChangedPosition
	ChangedQueue
	ChangedSettings
)

// Transport — изменения, которые зеркалятся в комнату.
const Transport = ChangedSong | ChangedPlaying | ChangedPosition

func (k ChangeKind) Has(o ChangeKind) bool { return k&o != 0 }

type Change struct {
	Kind     ChangeKind
	Snapshot Snapshot
}

// Snapshot — копия локального состояния на момент изменения.
type Snapshot struct {
	State    State
	Song     *domain.Song
	Position float64
	Duration float64
	Volume   int
	Shuffle  bool
	Repeat   RepeatMode
	Queue    []domain.Song
	Index    int
}

func (s Snapshot) IsPlaying() bool { return s.State == Playing }

func (s Snapshot) SongID() string {
	if s.Song == nil {
		return ""
	}
	return s.Song.ID
}
