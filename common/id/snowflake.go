package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Node ids per process kind.
const (
	NodeServer int64 = 1
	NodeWorker int64 = 2
	nodeLocal  int64 = 0
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Only the first call has an effect.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new time-ordered int64 ID. Without a prior Init it falls
// back to a local node, which is what tests and one-off tools get.
func New() int64 {
	_ = Init(nodeLocal)
	return node.Generate().Int64()
}
