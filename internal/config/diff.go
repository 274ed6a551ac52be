package config

import (
	"slices"

	"github.com/MrWong99/kalam/internal/scoring"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; they take effect
// for practice sessions started after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	BandsChanged bool
	NewBands     scoring.Bands

	VoiceChanged bool
	NewVoice     VoiceConfig

	CaptureTimeoutChanged bool

	// RestartRequired lists changed settings that only apply after a restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.BandsChanged || d.VoiceChanged || d.CaptureTimeoutChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if ob, nb := old.Practice.ScoreBands(), new.Practice.ScoreBands(); ob != nb {
		d.BandsChanged = true
		d.NewBands = nb
	}
	if old.Practice.Voice != new.Practice.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Practice.Voice
	}
	if old.Practice.CaptureTimeout != new.Practice.CaptureTimeout {
		d.CaptureTimeoutChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server.log_format")
	}
	if old.Server.MaxSessions != new.Server.MaxSessions {
		d.RestartRequired = append(d.RestartRequired, "server.max_sessions")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server.allowed_origins")
	}
	if !sameProvider(old.Providers.STT, new.Providers.STT) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt")
	}
	if !sameProvider(old.Providers.TTS, new.Providers.TTS) {
		d.RestartRequired = append(d.RestartRequired, "providers.tts")
	}
	if !slices.EqualFunc(old.Providers.STTFallback, new.Providers.STTFallback, sameProvider) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt_fallback")
	}
	if !slices.EqualFunc(old.Providers.TTSFallback, new.Providers.TTSFallback, sameProvider) {
		d.RestartRequired = append(d.RestartRequired, "providers.tts_fallback")
	}
	if old.Practice.Language != new.Practice.Language {
		d.RestartRequired = append(d.RestartRequired, "practice.language")
	}
	if old.Catalog != new.Catalog {
		d.RestartRequired = append(d.RestartRequired, "catalog")
	}

	return d
}

// sameProvider compares the scalar fields of two entries. Options maps are
// not compared.
func sameProvider(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
