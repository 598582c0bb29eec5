package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// JSON-RPC structures
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// MCP structures
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MCP Server
type MCPServer struct {
	apiURL      string
	apiUsername string
	apiPassword string
	userID      string
	client      *http.Client
}

func NewMCPServer() *MCPServer {
	apiURL := os.Getenv("WEATHERPLANNER_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	return &MCPServer{
		apiURL:      strings.TrimSuffix(apiURL, "/"),
		apiUsername: os.Getenv("WEATHERPLANNER_API__USERNAME"),
		apiPassword: os.Getenv("WEATHERPLANNER_API__PASSWORD"),
		userID:      os.Getenv("WEATHERPLANNER_USER_ID"),
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *MCPServer) Run(in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			fmt.Fprintf(os.Stderr, "Error reading: %v\n", err)
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var req JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing JSON: %v\n", err)
			continue
		}

		// notifications get no response
		if req.ID == nil && strings.HasPrefix(req.Method, "notifications/") {
			continue
		}

		response := s.handleRequest(req)
		responseBytes, _ := json.Marshal(response)
		fmt.Fprintln(out, string(responseBytes))
	}
}

func (s *MCPServer) handleRequest(req JSONRPCRequest) JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "initialized":
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: nil}
	case "tools/list":
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: tools}}
	case "tools/call":
		return s.handleToolsCall(req)
	default:
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32601, Message: "Method not found"},
		}
	}
}

func (s *MCPServer) handleInitialize(req JSONRPCRequest) JSONRPCResponse {
	result := InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: map[string]any{
			"tools": map[string]any{},
		},
	}
	result.ServerInfo.Name = "weatherplanner-mcp"
	result.ServerInfo.Version = "1.0.0"

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

var textInput = InputSchema{
	Type: "object",
	Properties: map[string]Property{
		"text":        {Type: "string", Description: "The request in plain words"},
		"city":        {Type: "string", Description: "City to plan in (optional)"},
		"temperature": {Type: "number", Description: "Current temperature in °C (optional)"},
		"condition":   {Type: "string", Description: "Current weather condition (optional)"},
	},
	Required: []string{"text"},
}

var tools = []Tool{
	{
		Name:        "weatherplanner_list_events",
		Description: "List calendar events, optionally limited to a start range. Dates are YYYY-MM-DD or RFC 3339.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"from": {Type: "string", Description: "Earliest start (optional)"},
				"to":   {Type: "string", Description: "Latest start (optional)"},
			},
		},
	},
	{
		Name:        "weatherplanner_today",
		Description: "List today's events.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	},
	{
		Name:        "weatherplanner_search_events",
		Description: "Find events whose title, description or location contains the query.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {Type: "string", Description: "Text to look for"},
			},
			Required: []string{"query"},
		},
	},
	{
		Name:        "weatherplanner_create_event",
		Description: "Create an event with explicit times.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"title":       {Type: "string", Description: "Event title"},
				"description": {Type: "string", Description: "Event description (optional)"},
				"location":    {Type: "string", Description: "Event location (optional)"},
				"start":       {Type: "string", Description: "Start, RFC 3339 or YYYY-MM-DD HH:MM"},
				"end":         {Type: "string", Description: "End (optional, defaults to one hour after start)"},
			},
			Required: []string{"title", "start"},
		},
	},
	{
		Name:        "weatherplanner_delete_event",
		Description: "Delete an event by its ID.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"event_id": {Type: "string", Description: "Event ID"},
			},
			Required: []string{"event_id"},
		},
	},
	{
		Name:        "weatherplanner_schedule_activity",
		Description: "Schedule an activity from a phrase like \"go for a run tomorrow morning\", using the weather context.",
		InputSchema: textInput,
	},
	{
		Name:        "weatherplanner_delete_events",
		Description: "Delete events from a phrase like \"cancel picnic\" or \"delete all events tomorrow\".",
		InputSchema: textInput,
	},
	{
		Name:        "weatherplanner_chat",
		Description: "Send a chat message; scheduling and deletion intents are both handled.",
		InputSchema: textInput,
	},
}

func (s *MCPServer) handleToolsCall(req JSONRPCRequest) JSONRPCResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32602, Message: "Invalid params"},
		}
	}

	var result string
	var isError bool

	switch params.Name {
	case "weatherplanner_list_events":
		q := url.Values{}
		for _, k := range []string{"from", "to"} {
			if v := stringArg(params.Arguments, k); v != "" {
				q.Set(k, v)
			}
		}
		path := "/api/events"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		result, isError = s.apiRequest(http.MethodGet, path, nil)
	case "weatherplanner_today":
		result, isError = s.apiRequest(http.MethodGet, "/api/events/today", nil)
	case "weatherplanner_search_events":
		q := url.Values{"q": {stringArg(params.Arguments, "query")}}
		result, isError = s.apiRequest(http.MethodGet, "/api/events/search?"+q.Encode(), nil)
	case "weatherplanner_create_event":
		result, isError = s.apiRequest(http.MethodPost, "/api/events", params.Arguments)
	case "weatherplanner_delete_event":
		id := url.PathEscape(stringArg(params.Arguments, "event_id"))
		result, isError = s.apiRequest(http.MethodDelete, "/api/event/"+id, nil)
	case "weatherplanner_schedule_activity":
		result, isError = s.apiRequest(http.MethodPost, "/api/chat/schedule", params.Arguments)
	case "weatherplanner_delete_events":
		result, isError = s.apiRequest(http.MethodPost, "/api/chat/delete", params.Arguments)
	case "weatherplanner_chat":
		result, isError = s.apiRequest(http.MethodPost, "/api/chat", params.Arguments)
	default:
		result = "Unknown tool: " + params.Name
		isError = true
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: result}},
			IsError: isError,
		},
	}
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func (s *MCPServer) apiRequest(method, path string, body any) (string, bool) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, s.apiURL+path, reqBody)
	if err != nil {
		return fmt.Sprintf("Error creating request: %v", err), true
	}

	req.SetBasicAuth(s.apiUsername, s.apiPassword)
	if s.userID != "" {
		req.Header.Set("X-User-ID", s.userID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error making request: %v", err), true
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Error reading response: %v", err), true
	}

	var apiResp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}

	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return string(respBody), resp.StatusCode >= 400
	}

	if !apiResp.Success {
		return fmt.Sprintf("API Error: %s", apiResp.Error), true
	}

	var prettyData bytes.Buffer
	if err := json.Indent(&prettyData, apiResp.Data, "", "  "); err != nil {
		return string(apiResp.Data), false
	}

	return prettyData.String(), false
}

func main() {
	server := NewMCPServer()
	server.Run(os.Stdin, os.Stdout)
}
