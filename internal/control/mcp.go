package control

import (
	"context"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/pagasa/internal/conversation"
	"github.com/MrWong99/pagasa/internal/cycle"
)

// Tool names exposed over MCP.
const (
	ToolStatus            = "status"
	ToolStartCycle        = "start_cycle"
	ToolToggleAutomation  = "toggle_automation"
	ToolTogglePlayback    = "toggle_playback"
	ToolToggleLiveUpdates = "toggle_live_updates"
	ToolTurnLog           = "turn_log"
)

type noArgs struct{}

type turnLog struct {
	Turns   []conversation.Turn  `json:"turns"`
	Pending conversation.Pending `json:"pending"`
}

// NewMCPServer returns an MCP server whose tools drive s. Tool errors are
// reported to the caller as error results, not protocol errors. Snapshot
// outputs carry no output schema since their enums marshal as text.
func NewMCPServer(s *Server) *mcpsdk.Server {
	version := s.cfg.Version
	if version == "" {
		version = "dev"
	}
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "pagasa", Version: version}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolStatus,
		Description: "Current analysis cycle, conversation and live-update state, including the latest analysis text.",
	}, func(context.Context, *mcpsdk.CallToolRequest, noArgs) (*mcpsdk.CallToolResult, any, error) {
		st := s.Status()
		return textResult(statusSummary(st)), st, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolStartCycle,
		Description: "Capture the wind map and start a new analysis cycle. Fails while a cycle is in progress.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, any, error) {
		if err := s.cfg.Cycle.Start(ctx, cycle.TriggerManual); err != nil {
			return nil, nil, err
		}
		snap := s.cfg.Cycle.Snapshot()
		return textResult("Analysis cycle " + snap.CycleID + " started."), snap, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolToggleAutomation,
		Description: "Switch the automated analysis timer on or off.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, Toggled, error) {
		on, err := s.cfg.Cycle.ToggleAutomation(ctx)
		if err != nil {
			return nil, Toggled{}, err
		}
		return textResult(onOff("Automation", on)), Toggled{On: on}, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolTogglePlayback,
		Description: "Play or stop the audio report of the latest cycle.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, Toggled, error) {
		playing, err := s.cfg.Cycle.TogglePlayback(ctx)
		if err != nil {
			return nil, Toggled{}, err
		}
		return textResult(onOff("Report playback", playing)), Toggled{On: playing}, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolToggleLiveUpdates,
		Description: "Start or stop the spoken one-sentence live updates.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, Toggled, error) {
		on := s.cfg.LiveUpdates.Toggle(ctx)
		return textResult(onOff("Live updates", on)), Toggled{On: on}, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolTurnLog,
		Description: "Transcript of the live conversation: completed turns and the turn in progress.",
	}, func(context.Context, *mcpsdk.CallToolRequest, noArgs) (*mcpsdk.CallToolResult, any, error) {
		snap := s.cfg.Conversation.Snapshot()
		return textResult(fmt.Sprintf("%d completed turns.", len(snap.Turns))),
			turnLog{Turns: snap.Turns, Pending: snap.Pending}, nil
	})

	return srv
}

func newMCPHandler(s *Server) http.Handler {
	srv := NewMCPServer(s)
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return srv }, nil)
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}
}

func onOff(what string, on bool) string {
	if on {
		return what + " on."
	}
	return what + " off."
}

func statusSummary(st Status) string {
	s := fmt.Sprintf("Cycle: %s (%s). Automation: %t. Report available: %t.",
		st.Cycle.State, st.Cycle.Label, st.Cycle.Automation, st.Cycle.HasReport)
	if st.Cycle.State == cycle.Ready {
		s += fmt.Sprintf(" Report fresh for %ds.", st.Cycle.Countdown)
	}
	s += fmt.Sprintf(" Conversation: %s. Live updates: %t.", st.Conversation.State, st.LiveUpdate.Running)
	if st.Cycle.Analysis != "" {
		s += "\n\n" + st.Cycle.Analysis
	}
	return s
}
