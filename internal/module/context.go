package module

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kingrea/fieldops/internal/api"
)

// Deps carries shared runtime dependencies into every field domain.
type Deps struct {
	Client *api.Client
	Log    logrus.FieldLogger
	Now    func() time.Time
}

// NewDeps builds Deps around the process-wide API client.
func NewDeps(client *api.Client, log logrus.FieldLogger) Deps {
	return Deps{Client: client, Log: log, Now: time.Now}.normalized()
}

// WithLogger returns a copy logging through log.
func (d Deps) WithLogger(log logrus.FieldLogger) Deps {
	d.Log = log
	return d.normalized()
}

// Logger returns d.Log tagged with the domain id.
func (d Deps) Logger(moduleID string) logrus.FieldLogger {
	return d.normalized().Log.WithField("domain", moduleID)
}

func (d Deps) normalized() Deps {
	if d.Log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		d.Log = discard
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}
