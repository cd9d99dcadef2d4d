package plugin

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrNoDataDir is returned by handles built without a data directory.
var ErrNoDataDir = errors.New("host data dir unavailable")

// HandleConfig builds the default Handle.
type HandleConfig struct {
	DataDir   func() (string, error)
	Messenger Messenger
	Logger    logrus.FieldLogger
}

type handleImpl struct {
	cfg HandleConfig
}

var _ Handle = (*handleImpl)(nil)

func NewHandle(cfg HandleConfig) Handle {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &handleImpl{cfg: cfg}
}

func (h *handleImpl) DataDir() (string, error) {
	if h.cfg.DataDir == nil {
		return "", ErrNoDataDir
	}
	return h.cfg.DataDir()
}

func (h *handleImpl) Messenger() Messenger {
	return h.cfg.Messenger
}

func (h *handleImpl) Logger() logrus.FieldLogger {
	return h.cfg.Logger
}
