package roomsync

// Phase — фаза синхронизатора. Пока идёт ApplyingRemote, локальные
// изменения не публикуются: это и есть защита от эха.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseApplyingRemote
	PhasePublishingLocal
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseApplyingRemote:
		return "applying_remote"
	case PhasePublishingLocal:
		return "publishing_local"
	default:
		return "unknown"
	}
}
