package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	page     interfaces.PageStorage
	source   interfaces.SourceStorage
	post     interfaces.PostStorage
	proposal interfaces.ProposalStorage
	job      interfaces.JobStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := newManager(db, logger)
	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")
	return manager, nil
}

func newManager(db *BadgerDB, logger arbor.ILogger) *Manager {
	return &Manager{
		db:       db,
		page:     NewPageStorage(db, logger),
		source:   NewSourceStorage(db, logger),
		post:     NewPostStorage(db, logger),
		proposal: NewProposalStorage(db, logger),
		job:      NewJobStorage(db, logger),
		logger:   logger,
	}
}

func (m *Manager) PageStorage() interfaces.PageStorage         { return m.page }
func (m *Manager) SourceStorage() interfaces.SourceStorage     { return m.source }
func (m *Manager) PostStorage() interfaces.PostStorage         { return m.post }
func (m *Manager) ProposalStorage() interfaces.ProposalStorage { return m.proposal }
func (m *Manager) JobStorage() interfaces.JobStorage           { return m.job }

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
