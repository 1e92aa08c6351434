package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/techdigest/internal/subscription"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Subscriptions *subscription.Service
	Version       string
}

// NewMCPServer exposes the user commands as MCP tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"techdigest",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("techdigest: daily digests of Japanese tech articles matched to a user's themes."),
		server.WithRecovery(),
	)

	user := mcp.WithString("user", mcp.Description("External (Discord) user ID"), mcp.Required())
	themeName := mcp.WithString("name", mcp.Description("Theme name, e.g. \"Go\" or \"Kubernetes\""), mcp.Required())

	s.AddTool(mcp.NewTool("register",
		mcp.WithDescription("Register a user for daily digests. Safe to call twice."),
		user,
	), mcpRegister(deps))

	s.AddTool(mcp.NewTool("theme_add",
		mcp.WithDescription("Add an interest theme (at most 10 per user)."),
		user, themeName,
	), mcpThemeAdd(deps))

	s.AddTool(mcp.NewTool("theme_list",
		mcp.WithDescription("List a user's themes."),
		user,
	), mcpThemeList(deps))

	s.AddTool(mcp.NewTool("theme_remove",
		mcp.WithDescription("Remove a theme by name, ignoring case."),
		user, themeName,
	), mcpThemeRemove(deps))

	s.AddTool(mcp.NewTool("settings_count",
		mcp.WithDescription("Set how many articles a digest may contain (1-30)."),
		user,
		mcp.WithNumber("number", mcp.Description("Articles per digest"), mcp.Required()),
	), mcpSettingsCount(deps))

	s.AddTool(mcp.NewTool("settings_toggle",
		mcp.WithDescription("Pause or resume scheduled delivery."),
		user,
	), mcpSettingsToggle(deps))

	s.AddTool(mcp.NewTool("settings_status",
		mcp.WithDescription("Show a user's delivery settings and themes."),
		user,
	), mcpSettingsStatus(deps))

	s.AddTool(mcp.NewTool("deliver_now",
		mcp.WithDescription("Queue an immediate digest for a user. Returns a token for delivery_status."),
		user,
		mcp.WithString("channel", mcp.Description("Channel ID to notify when the delivery finishes")),
	), mcpDeliverNow(deps))

	s.AddTool(mcp.NewTool("delivery_status",
		mcp.WithDescription("Look up a queued delivery by token."),
		mcp.WithString("token", mcp.Description("Token returned by deliver_now"), mcp.Required()),
	), mcpDeliveryStatus(deps))

	return s
}

func mcpRegister(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		_, created, err := deps.Subscriptions.Register(ctx, id)
		if err != nil {
			return mcpError(subscription.ErrorMessage(err)), nil
		}
		if !created {
			return mcpText("Already registered. Add themes with theme_add."), nil
		}
		return mcpText("Registered! 🎉 Add a theme with theme_add to start receiving digests."), nil
	}
}

func mcpThemeAdd(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		t, err := deps.Subscriptions.AddTheme(ctx, id, name)
		if err != nil {
			return mcpError(subscription.ErrorMessage(err)), nil
		}
		return mcpText(fmt.Sprintf("Added theme %q ✅", t.Name)), nil
	}
}

func mcpThemeList(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		themes, err := deps.Subscriptions.ListThemes(ctx, id)
		if err != nil {
			return mcpError(subscription.ErrorMessage(err)), nil
		}
		if len(themes) == 0 {
			return mcpText("No themes registered. Add one with theme_add."), nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "📋 Registered themes (%d)\n", len(themes))
		for _, t := range themes {
			fmt.Fprintf(&b, "\n• %s", t.Name)
		}
		return mcpText(b.String()), nil
	}
}

func mcpThemeRemove(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		if err := deps.Subscriptions.RemoveTheme(ctx, id, name); err != nil {
			return mcpError(subscription.ErrorMessage(err)), nil
		}
		return mcpText(fmt.Sprintf("Removed theme %q 🗑️", name)), nil
	}
}

func mcpSettingsCount(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		n := req.GetInt("number", 0)
		u, err := deps.Subscriptions.SetArticleCount(ctx, id, n)
		if err != nil {
			return mcpError(subscription.ErrorMessage(err)), nil
		}
		return mcpText(fmt.Sprintf("Digest size set to %d articles ✅", u.ArticleCount)), nil
	}
}

func mcpSettingsToggle(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		u, err := deps.Subscriptions.ToggleActive(ctx, id)
		if err != nil {
			return mcpError(subscription.ErrorMessage(err)), nil
		}
		if u.IsActive {
			return mcpText("Delivery resumed ✅"), nil
		}
		return mcpText("Delivery paused ⏸️ Run settings_toggle again to resume."), nil
	}
}

func mcpSettingsStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		st, err := deps.Subscriptions.Status(ctx, id)
		if err != nil {
			return mcpError(subscription.ErrorMessage(err)), nil
		}
		b, err := json.Marshal(st)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal settings: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDeliverNow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		token, err := deps.Subscriptions.RequestDelivery(ctx, id, req.GetString("channel", ""))
		if err != nil {
			return mcpError(subscription.ErrorMessage(err)), nil
		}
		return mcpText(token), nil
	}
}

func mcpDeliveryStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, err := req.RequireString("token")
		if err != nil {
			return mcpError("token is required"), nil
		}
		st, err := deps.Subscriptions.GetDeliveryStatus(ctx, token)
		if err != nil {
			return mcpError(subscription.ErrorMessage(err)), nil
		}
		b, err := json.Marshal(st)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
