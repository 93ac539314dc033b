// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcptoolset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/docpilot/core/pkg/tool"
)

// inspectorContext is the tool.Context bound to a call arriving over MCP. It
// carries no owning document-processing run, so RunDocumentID returns 0 — a
// value no real document ever has, so a tool guarding against self-lookup of
// the currently-processing document never mistakes an inspector call for one.
type inspectorContext struct {
	context.Context
}

func (inspectorContext) RunDocumentID() int { return 0 }

// NewServer builds an MCP server re-exposing every callable tool in tools
// read-only, the mirror image of Toolset (which consumes an external MCP
// server's tools). Tools that do not implement tool.CallableTool are
// skipped, since MCP has no notion of a tool with no invocation.
func NewServer(name, version string, tools []tool.Tool) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	for _, t := range tools {
		callable, ok := t.(tool.CallableTool)
		if !ok {
			continue
		}
		s.AddTool(toMCPTool(callable), handlerFor(callable))
	}
	return s
}

// NewHTTPHandler wraps NewServer's server in the streamable-HTTP transport,
// ready to mount at a path on an existing router so an external inspector
// can enumerate and call the same read-only tools bound to the analysis
// model, without going through the document-processing pipeline.
func NewHTTPHandler(name, version string, tools []tool.Tool) http.Handler {
	return server.NewStreamableHTTPServer(NewServer(name, version, tools))
}

func toMCPTool(t tool.CallableTool) mcp.Tool {
	schema, err := json.Marshal(t.Schema())
	if err != nil {
		return mcp.NewTool(t.Name(), mcp.WithDescription(t.Description()))
	}
	return mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema)
}

func handlerFor(t tool.CallableTool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := req.Params.Arguments.(map[string]any)
		if !ok {
			args = map[string]any{}
		}
		out, err := t.Call(inspectorContext{Context: ctx}, args)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", t.Name(), err)), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}
