package roomsync

import "time"

// Config — параметры синхронизации; нулевые значения заменяются дефолтами.
type Config struct {
	// DriftThreshold — расхождение позиций (сек), после которого нужна коррекция.
	DriftThreshold float64
	// CorrectionInterval — минимальный интервал между корректирующими seek.
	CorrectionInterval time.Duration
	Debounce           time.Duration
	RemoteCacheTTL     time.Duration
	Heartbeat          time.Duration
	WriteTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		DriftThreshold:     1.0,
		CorrectionInterval: time.Second,
		Debounce:           100 * time.Millisecond,
		RemoteCacheTTL:     3 * time.Second,
		Heartbeat:          15 * time.Second,
		WriteTimeout:       5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = d.DriftThreshold
	}
	if c.CorrectionInterval <= 0 {
		c.CorrectionInterval = d.CorrectionInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.RemoteCacheTTL <= 0 {
		c.RemoteCacheTTL = d.RemoteCacheTTL
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = d.Heartbeat
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}
