package common

import (
	"github.com/google/uuid"
)

// Ids carry a type prefix, e.g. job_<uuid>.

func NewJobID() string      { return "job_" + uuid.New().String() }
func NewSourceID() string   { return "src_" + uuid.New().String() }
func NewProposalID() string { return "prop_" + uuid.New().String() }
func NewBatchID() string    { return "batch_" + uuid.New().String() }
