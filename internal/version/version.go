// Package version хранит сведения о сборке. Значения проставляются через
// -ldflags "-X github.com/vladislavdragonenkov/bazaar/internal/version.version=...",
// а без них берутся из debug.ReadBuildInfo.
package version

import (
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ServiceName используется в логах, трассировке и health-ответах.
const ServiceName = "bazaar"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарник.
type Build struct {
	Version string
	Commit  string
	Date    string
	// Modified выставлен, если бинарник собран из рабочей копии с изменениями.
	Modified bool
}

var current = sync.OnceValue(func() Build {
	info, _ := debug.ReadBuildInfo()
	return resolve(Build{Version: version, Commit: commit, Date: date}, info)
})

// Current возвращает сведения о текущей сборке.
func Current() Build { return current() }

// Version возвращает только номер версии.
func Version() string { return current().Version }

// Fields возвращает сведения о сборке для logrus.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"service":  ServiceName,
		"version":  b.Version,
		"commit":   b.Commit,
		"built_at": b.Date,
		"modified": b.Modified,
	}
}

// resolve дополняет значения из ldflags данными go build: версией модуля и vcs.* настройками.
func resolve(b Build, info *debug.BuildInfo) Build {
	if info == nil {
		return b
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}
