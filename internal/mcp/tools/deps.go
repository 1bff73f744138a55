// Package tools exposes the cognitive query layer as MCP tools.
package tools

import (
	"context"

	"github.com/vthunder/cogmem/internal/activity"
	"github.com/vthunder/cogmem/internal/cognitive"
	"github.com/vthunder/cogmem/internal/store"
	"github.com/vthunder/cogmem/internal/types"
)

// Dependencies holds the services MCP tools need.
// Optional fields may be nil; their tools are then not registered.
type Dependencies struct {
	// Core service (required)
	Handler *cognitive.Handler

	// DefaultSession is used when a call omits session_id
	DefaultSession string

	// Optional services
	Embedder types.Embedder // embeds concept text for add_semantic_concept
	Store    *store.Store   // enables persist_state
	Activity *activity.Log  // records queries and enables recent_activity

	// If set, index_document uses this to add content to the vector search backend
	Index func(ctx context.Context, id, content string, metadata map[string]string) (string, error)
	// If set, called after every tool invocation
	OnToolCall func(toolName string)
}
