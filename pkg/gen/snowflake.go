package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake", fx.Provide(NewNode))

// NewNode returns the snowflake node used for row IDs. The node number is
// fixed per binary; see cmd/*.
func NewNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
