package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EngineChanged is true if any engine tuning changed. The corrector has
	// to be rebuilt.
	EngineChanged bool

	// TranscriberChanged is true if the transcriber backend or its options
	// changed. The corrector has to be rebuilt with a new transcriber.
	TranscriberChanged bool

	// KnowledgeChanged is true if the knowledge source moved or its format
	// changed. The knowledge base has to be reloaded.
	KnowledgeChanged bool

	// RestartRequired names changed settings that only take effect after a
	// restart (e.g. "server.listen_addr").
	RestartRequired []string
}

// Changed reports whether d contains any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.EngineChanged || d.TranscriberChanged ||
		d.KnowledgeChanged || len(d.RestartRequired) > 0
}

// NeedsRebuild reports whether the correction engine must be rebuilt.
func (d ConfigDiff) NeedsRebuild() bool {
	return d.EngineChanged || d.TranscriberChanged || d.KnowledgeChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Server settings bound at startup.
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.LogFile != new.Server.LogFile {
		d.RestartRequired = append(d.RestartRequired, "server.log_file")
	}
	if old.Server.Metrics != new.Server.Metrics {
		d.RestartRequired = append(d.RestartRequired, "server.metrics")
	}
	if !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}

	d.EngineChanged = !reflect.DeepEqual(old.Engine, new.Engine)
	d.TranscriberChanged = !reflect.DeepEqual(old.Transcriber, new.Transcriber)

	ok, nk := old.Knowledge, new.Knowledge
	if ok.Path != nk.Path || ok.Format != nk.Format || ok.PostgresDSN != nk.PostgresDSN || ok.Dimensions != nk.Dimensions {
		d.KnowledgeChanged = true
	}
	if ok.Watch != nk.Watch || ok.PollInterval != nk.PollInterval {
		d.RestartRequired = append(d.RestartRequired, "knowledge.watch")
	}

	return d
}
