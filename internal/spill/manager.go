// Package spill implements the append-only disk channel used when a
// partition surrenders its in-memory buffers.
//
// A spill file is a sequence of length-prefixed blocks, one block per
// buffer. Each block carries the buffer kind and an xxh3 checksum of the
// payload so that replay detects torn or corrupted writes. Blocks are
// written by a single background goroutine per writer; the file is sealed
// when the partition finishes and replayed through a Reader afterwards.
package spill

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/dataflowlab/shuffle/internal/errors"
	"github.com/dataflowlab/shuffle/internal/observability"
)

// DefaultFilePrefix prefixes spill file names when none is configured.
const DefaultFilePrefix = "shuffle-"

// ManagerConfig contains spill manager configuration.
type ManagerConfig struct {
	Dir          string
	FilePrefix   string
	QueueDepth   int
	SyncOnFinish bool
}

// Manager creates spill writers backed by files in a common directory.
// One manager is shared by all partitions of a task.
type Manager struct {
	dir          string
	filePrefix   string
	queueDepth   int
	syncOnFinish bool
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// NewManager creates a spill manager rooted at config.Dir, creating the
// directory if needed.
func NewManager(config ManagerConfig, logger *slog.Logger, metrics *observability.Metrics) (*Manager, error) {
	if config.Dir == "" {
		config.Dir = os.TempDir()
	}
	if config.FilePrefix == "" {
		config.FilePrefix = DefaultFilePrefix
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = 64
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, &errors.SpillError{Op: "mkdir", Path: config.Dir, Err: err}
	}

	logger.Info("spill manager created",
		"dir", config.Dir,
		"queue_depth", config.QueueDepth,
		"sync_on_finish", config.SyncOnFinish,
	)

	return &Manager{
		dir:          config.Dir,
		filePrefix:   config.FilePrefix,
		queueDepth:   config.QueueDepth,
		syncOnFinish: config.SyncOnFinish,
		logger:       logger,
		metrics:      metrics,
	}, nil
}

// CreateWriter opens a fresh spill channel with a unique file name and
// starts its write loop.
func (m *Manager) CreateWriter() (*Writer, error) {
	name := fmt.Sprintf("%s%s.spill", m.filePrefix, uuid.NewString())
	path := filepath.Join(m.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		if m.metrics != nil {
			m.metrics.SpillErrors.WithLabelValues("create").Inc()
		}
		return nil, &errors.SpillError{Op: "create", Path: path, Err: err}
	}

	return newWriter(path, file, m.queueDepth, m.syncOnFinish, m.logger, m.metrics), nil
}

// Dir returns the directory holding spill files.
func (m *Manager) Dir() string {
	return m.dir
}
