// Package mcpserver exposes dataset tooling to LLM clients over the Model
// Context Protocol (stdio transport).
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/catalog"
	"github.com/starford/mira/internal/corrupt"
	"github.com/starford/mira/internal/deconstruct"
	"github.com/starford/mira/internal/ledger"
	"github.com/starford/mira/internal/schematic"
	"github.com/starford/mira/internal/structure"
	"github.com/starford/mira/internal/verify"
)

// Enqueuer accepts schematics for generation.
type Enqueuer interface {
	Enqueue(path string) bool
}

// Server wraps the MCP server with the dataset tools.
type Server struct {
	mcp      *server.MCPServer
	catalog  *catalog.Catalog
	db       *ledger.DB
	queue    Enqueuer
	resolver structure.AttachmentResolver
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithQueue makes add_schematic enqueue stored files.
func WithQueue(q Enqueuer) Option { return func(s *Server) { s.queue = q } }

// WithResolver sets the attachment resolver used when parsing.
func WithResolver(r structure.AttachmentResolver) Option { return func(s *Server) { s.resolver = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a new MCP server with all tools registered.
func New(cat *catalog.Catalog, db *ledger.DB, opts ...Option) *Server {
	s := &Server{
		catalog:  cat,
		db:       db,
		resolver: structure.LocalThenAnchored,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		"Mira",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_schematics",
		mcp.WithDescription("List schematic files in the input directory with their processing status."),
	), s.listSchematics)

	s.mcp.AddTool(mcp.NewTool("inspect_schematic",
		mcp.WithDescription("Show metadata, bounds and block counts of a schematic."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the input directory (e.g. doors/piston.litematic)")),
	), s.inspectSchematic)

	s.mcp.AddTool(mcp.NewTool("plan_deconstruction",
		mcp.WithDescription("Split a schematic into removal layers, top-down, and the build steps that reverse them."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the input directory")),
	), s.planDeconstruction)

	s.mcp.AddTool(mcp.NewTool("corrupt_schematic",
		mcp.WithDescription("Apply one random fault (broken wire, rotated component or removed power source) "+
			"to a schematic and return the fault and the broken block list. Nothing is written."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the input directory")),
		mcp.WithNumber("seed", mcp.Description("Random seed; equal seeds give equal faults")),
	), s.corruptSchematic)

	s.mcp.AddTool(mcp.NewTool("check_contract",
		mcp.WithDescription("Parse a verification contract without running it. "+
			"Read the contract format first via get_contract_format or the mira://contract-format resource."),
		mcp.WithString("contract", mcp.Required(), mcp.Description("Starlark source defining verify_circuit(ctx)")),
	), s.checkContract)

	s.mcp.AddTool(mcp.NewTool("get_contract_format",
		mcp.WithDescription("Returns the verification contract format and the ctx API."),
	), s.getContractFormat)

	s.mcp.AddTool(mcp.NewTool("run_stats",
		mcp.WithDescription("Totals from the run ledger: schematics done, skipped, pending and samples produced."),
	), s.runStats)

	s.mcp.AddTool(mcp.NewTool("add_schematic",
		mcp.WithDescription("Store a schematic in the input directory from an http(s) URL or a base64 data URI "+
			"and queue it for generation."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:<mime>;base64,<data> URI")),
		mcp.WithString("filename", mcp.Description("Target file name (.litematic, .yaml or .yml)")),
	), s.addSchematic)

	s.mcp.AddResource(
		mcp.NewResource("mira://contract-format", "Verification Contract Format",
			mcp.WithResourceDescription("How verification contracts are written and what ctx offers."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

// open resolves a relative path and parses the schematic there.
func (s *Server) open(rel string) (schematic.Summary, []structure.Record, error) {
	abs, err := s.catalog.Resolve(rel)
	if err != nil {
		return schematic.Summary{}, nil, err
	}
	sum, records, err := schematic.Inspect(abs, structure.WithResolver(s.resolver))
	if err != nil {
		return schematic.Summary{}, nil, err
	}
	sum.Path = rel
	return sum, records, nil
}

func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error())
	case errors.Is(err, apperr.ErrInvalidInput):
		return mcp.NewToolResultError("invalid input: " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

type listedSchematic struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Stale  bool   `json:"stale,omitempty"`
}

func (s *Server) listSchematics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.catalog.List()
	if err != nil {
		return toolError(err), nil
	}
	out := make([]listedSchematic, 0, len(entries))
	for _, e := range entries {
		item := listedSchematic{Path: e.Rel, Status: "new"}
		cs, status, err := s.db.GetChecksum(e.Path)
		if err != nil {
			return toolError(err), nil
		}
		if status != "" {
			item.Status = status
			item.Stale = cs != e.Checksum
		}
		out = append(out, item)
	}
	return jsonResult(out), nil
}

func (s *Server) inspectSchematic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum, _, err := s.open(path)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(sum), nil
}

func (s *Server) planDeconstruction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	_, records, err := s.open(path)
	if err != nil {
		return toolError(err), nil
	}
	steps, err := deconstruct.NewPlanner(nil, s.logger).Plan(ctx, records)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{
		"deconstruction_steps": steps,
		"build_steps":          deconstruct.BuildSteps(steps),
	}), nil
}

func (s *Server) corruptSchematic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	seed := uint64(req.GetInt("seed", 1))
	_, records, err := s.open(path)
	if err != nil {
		return toolError(err), nil
	}
	broken, mods := corrupt.NewEngine(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))).Corrupt(records)
	if len(mods) == 0 {
		return mcp.NewToolResultText("no fault applies: the schematic has no wire, rotatable component or power source"), nil
	}
	descriptions := make([]string, len(mods))
	for i, m := range mods {
		descriptions[i] = m.String()
	}
	return jsonResult(map[string]any{
		"modification": mods,
		"description":  strings.Join(descriptions, "; "),
		"broken":       structure.Describe(broken),
	}), nil
}

func (s *Server) checkContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contract, err := req.RequireString("contract")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := verify.Check(contract); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (s *Server) getContractFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ContractFormat), nil
}

func (s *Server) readContractFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "mira://contract-format",
			MIMEType: "text/markdown",
			Text:     ContractFormat,
		},
	}, nil
}

func (s *Server) runStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.db.Stats()
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(st), nil
}

// errf keeps tool error text uniform.
func errf(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...))
}
