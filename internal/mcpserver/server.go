// Package mcpserver exposes perception and input control as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/v0xg/omniagent/internal/agent"
	"github.com/v0xg/omniagent/internal/perception"
	"github.com/v0xg/omniagent/internal/ui"
)

// Version is reported to MCP clients
const Version = "0.1.0"

// Server wraps the MCP server around a screen's perception and execution ports.
type Server struct {
	mcpServer     *mcpserver.MCPServer
	perception    agent.Perception
	execution     agent.Execution
	scalingFactor float64
	scrollAmount  int
	logger        *zap.Logger

	// tools mutate one shared screen, so calls are serialized
	mu sync.Mutex
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithScalingFactor sets the scale used when the execution port does not report one
func WithScalingFactor(f float64) Option {
	return func(s *Server) { s.scalingFactor = f }
}

// New creates and configures an MCP server with all tools registered.
func New(p agent.Perception, ex agent.Execution, opts ...Option) *Server {
	s := &Server{
		perception:    p,
		execution:     ex,
		scalingFactor: 1,
		scrollAmount:  3,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("mcp")

	s.mcpServer = mcpserver.NewMCPServer(
		"omniagent",
		Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("get_screen_state",
			mcplib.WithDescription(`Capture the screen and list every detected UI element with its ID, type, content and normalized bounds.`),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetScreenState,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("find_elements",
			mcplib.WithDescription(`Find UI elements matching a natural language description, best match first.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("query",
				mcplib.Description("Words to look for in element content and type, e.g. 'login button'"),
				mcplib.Required(),
			),
			mcplib.WithNumber("max_results",
				mcplib.Description("Maximum number of elements to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleFindElements,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("click_element",
			mcplib.WithDescription(`Click the UI element that best matches a description.`),
			mcplib.WithString("description",
				mcplib.Description("Description of the element to click, e.g. 'Remember Me checkbox'"),
				mcplib.Required(),
			),
			mcplib.WithString("click_type",
				mcplib.Description("Kind of click"),
				mcplib.Enum(string(ui.ClickSingle), string(ui.ClickDouble), string(ui.ClickRight)),
				mcplib.DefaultString(string(ui.ClickSingle)),
			),
		),
		s.handleClickElement,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("type_text",
			mcplib.WithDescription(`Type text, optionally clicking a target element first to focus it.`),
			mcplib.WithString("text",
				mcplib.Description("Text to type"),
				mcplib.Required(),
			),
			mcplib.WithString("target",
				mcplib.Description("Optional description of the field to focus before typing"),
			),
		),
		s.handleTypeText,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("press_key",
			mcplib.WithDescription(`Press a key or key combination such as 'enter', 'tab' or 'cmd+space'.`),
			mcplib.WithString("key_info",
				mcplib.Description("Key spec; modifiers joined with '+'"),
				mcplib.Required(),
			),
		),
		s.handlePressKey,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("scroll_view",
			mcplib.WithDescription(`Scroll the view in a direction by a number of wheel notches.`),
			mcplib.WithString("direction",
				mcplib.Description("Scroll direction"),
				mcplib.Enum("up", "down", "left", "right"),
				mcplib.Required(),
			),
			mcplib.WithNumber("amount",
				mcplib.Description("Number of notches"),
				mcplib.Min(1),
				mcplib.DefaultNumber(3),
			),
		),
		s.handleScrollView,
	)
}

type screenState struct {
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	Elements []ui.Element `json:"elements"`
}

func (s *Server) handleGetScreenState(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.perception.Update(ctx); err != nil {
		return errorResult(fmt.Sprintf("failed to update screen state: %v", err)), nil
	}
	w, h := s.perception.ScreenDimensions()
	return jsonResult(screenState{Width: w, Height: h, Elements: s.perception.Elements()})
}

func (s *Server) handleFindElements(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return errorResult("query is required"), nil
	}
	limit := request.GetInt("max_results", 5)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.perception.Update(ctx); err != nil {
		return errorResult(fmt.Sprintf("failed to update screen state: %v", err)), nil
	}
	matches := perception.RankElements(s.perception.Elements(), query, limit)
	return jsonResult(map[string]any{
		"query":    query,
		"elements": matches,
		"total":    len(matches),
	})
}

func (s *Server) handleClickElement(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	description := request.GetString("description", "")
	if strings.TrimSpace(description) == "" {
		return errorResult("description is required"), nil
	}
	kind := ui.ClickType(request.GetString("click_type", string(ui.ClickSingle)))
	switch kind {
	case ui.ClickSingle, ui.ClickDouble, ui.ClickRight:
	default:
		return errorResult(fmt.Sprintf("unknown click_type %q", kind)), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	el, x, y, res := s.locate(ctx, description)
	if res != nil {
		return res, nil
	}
	if !s.execution.Click(ctx, x, y, kind) {
		return errorResult(fmt.Sprintf("click on element %d failed", el.ID)), nil
	}
	s.logger.Info("clicked element", zap.Int("element_id", el.ID), zap.Int("x", x), zap.Int("y", y))
	return textResult(fmt.Sprintf("Clicked %s %d ('%s') at (%d, %d)", el.Type, el.ID, el.Content, x, y)), nil
}

func (s *Server) handleTypeText(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	target := request.GetString("target", "")

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := fmt.Sprintf("Typed %d characters", len([]rune(text)))
	if strings.TrimSpace(target) != "" {
		el, x, y, res := s.locate(ctx, target)
		if res != nil {
			return res, nil
		}
		if !s.execution.Click(ctx, x, y, ui.ClickSingle) {
			return errorResult(fmt.Sprintf("failed to focus element %d", el.ID)), nil
		}
		msg += fmt.Sprintf(" into %s %d ('%s')", el.Type, el.ID, el.Content)
	}

	if !s.execution.TypeText(ctx, text) {
		return errorResult("typing failed"), nil
	}
	return textResult(msg), nil
}

func (s *Server) handlePressKey(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	key := request.GetString("key_info", "")
	if strings.TrimSpace(key) == "" {
		return errorResult("key_info is required"), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.execution.ExecuteKeyString(ctx, key) {
		return errorResult(fmt.Sprintf("failed to press %q", key)), nil
	}
	return textResult(fmt.Sprintf("Pressed %s", key)), nil
}

func (s *Server) handleScrollView(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	direction := strings.ToLower(request.GetString("direction", ""))
	amount := request.GetInt("amount", s.scrollAmount)
	if amount <= 0 {
		return errorResult("amount must be positive"), nil
	}

	dx, dy := agent.ScrollDelta(direction, amount)
	if dx == 0 && dy == 0 {
		return errorResult(fmt.Sprintf("unknown direction %q", direction)), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.execution.Scroll(ctx, dx, dy) {
		return errorResult("scroll failed"), nil
	}
	return textResult(fmt.Sprintf("Scrolled %s by %d", direction, amount)), nil
}

// locate refreshes the screen and maps the best match for description to
// input coordinates. A non-nil result is an error to return to the client.
func (s *Server) locate(ctx context.Context, description string) (ui.Element, int, int, *mcplib.CallToolResult) {
	if err := s.perception.Update(ctx); err != nil {
		return ui.Element{}, 0, 0, errorResult(fmt.Sprintf("failed to update screen state: %v", err))
	}
	el := perception.FindElement(s.perception.Elements(), description)
	if el == nil {
		return ui.Element{}, 0, 0, errorResult(fmt.Sprintf("no element matches %q", description))
	}

	w, h := s.perception.ScreenDimensions()
	scale := agent.ScalingFactor(s.execution, s.scalingFactor, s.logger)
	x, y, ok := agent.LogicalPoint(el.Bounds, w, h, scale)
	if !ok || w <= 0 || h <= 0 {
		return ui.Element{}, 0, 0, errorResult(fmt.Sprintf("element %d has no usable position", el.ID))
	}
	return *el, x, y, nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return textResult(string(data)), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
