package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMCPServer(t *testing.T) {
	Convey("Given an MCP server in front of a fake API", t, func() {
		var gotPath, gotUser, gotBody string
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.RequestURI()
			gotUser = r.Header.Get("X-User-ID")
			body, _ := io.ReadAll(r.Body)
			gotBody = string(body)
			if strings.HasPrefix(r.URL.Path, "/api/event/missing") {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"success":false,"error":"event not found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"data":{"ok":true}}`))
		}))
		defer api.Close()

		s := &MCPServer{apiURL: api.URL, userID: "u1", client: api.Client()}

		run := func(lines ...string) []JSONRPCResponse {
			var out bytes.Buffer
			s.Run(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)

			var responses []JSONRPCResponse
			dec := json.NewDecoder(&out)
			for dec.More() {
				var r JSONRPCResponse
				So(dec.Decode(&r), ShouldBeNil)
				responses = append(responses, r)
			}
			return responses
		}

		Convey("tools/list advertises the calendar tools", func() {
			resp := run(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
			So(resp, ShouldHaveLength, 1)
			raw, _ := json.Marshal(resp[0].Result)
			So(string(raw), ShouldContainSubstring, "weatherplanner_schedule_activity")
			So(string(raw), ShouldContainSubstring, "weatherplanner_delete_events")
		})

		Convey("schedule_activity posts the arguments to the chat API", func() {
			resp := run(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"weatherplanner_schedule_activity","arguments":{"text":"bike ride"}}}`)
			So(resp, ShouldHaveLength, 1)
			So(gotPath, ShouldEqual, "/api/chat/schedule")
			So(gotUser, ShouldEqual, "u1")
			So(gotBody, ShouldContainSubstring, `"text":"bike ride"`)
		})

		Convey("search encodes the query", func() {
			run(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"weatherplanner_search_events","arguments":{"query":"yoga class"}}}`)
			So(gotPath, ShouldEqual, "/api/events/search?q=yoga+class")
		})

		Convey("API errors are reported as tool errors", func() {
			resp := run(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"weatherplanner_delete_event","arguments":{"event_id":"missing"}}}`)
			raw, _ := json.Marshal(resp[0].Result)
			var res ToolCallResult
			So(json.Unmarshal(raw, &res), ShouldBeNil)
			So(res.IsError, ShouldBeTrue)
			So(res.Content[0].Text, ShouldContainSubstring, "event not found")
		})

		Convey("Notifications get no response and unknown methods an error", func() {
			resp := run(
				`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
				`{"jsonrpc":"2.0","id":5,"method":"resources/list"}`,
			)
			So(resp, ShouldHaveLength, 1)
			So(resp[0].Error, ShouldNotBeNil)
			So(resp[0].Error.Code, ShouldEqual, -32601)
		})
	})
}
