//  Copyright (c) 2017-2018 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/uber/aresquery/utils"
)

const contentType = "application/json"

type shellContext struct {
	host    string
	port    int
	context map[string]interface{}
	client  http.Client
}

// script global context
var ctx shellContext

func printError(c *ishell.Context, format string, args ...interface{}) {
	c.Println(color.New(color.FgRed).Sprintf(format, args...))
}

// call sends a request to the broker and decodes its json response into out.
func call(method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, fmt.Sprintf("http://%s:%d%s", ctx.host, ctx.port, path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := ctx.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %s", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("got code %d from aresquery broker: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error decoding response: %s", err)
	}
	return nil
}

func show(c *ishell.Context) {
	if len(c.Args) != 1 {
		printError(c, "invalid argument for show command")
		return
	}
	switch c.Args[0] {
	case "sources":
		var sources []map[string]interface{}
		if err := call(http.MethodGet, "/query/sources", nil, &sources); err != nil {
			printError(c, "%s", err)
			return
		}
		c.Print(utils.WriteTable(newRowTable(sources, []string{"name", "engine", "source", "introspectedAt", "error"})))
	case "context":
		data, _ := json.MarshalIndent(ctx.context, "", "  ")
		c.Println(string(data))
	case "configs":
		c.Printf("host=%s port=%d\n", ctx.host, ctx.port)
	default:
		printError(c, "unknown show target %s", c.Args[0])
	}
}

func describe(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: describe <source>")
		return
	}
	var source struct {
		Attributes []map[string]interface{} `json:"attributes"`
		Error      string                   `json:"error"`
	}
	if err := call(http.MethodGet, "/query/sources/"+c.Args[0], nil, &source); err != nil {
		printError(c, "%s", err)
		return
	}
	if source.Error != "" {
		printError(c, "%s", source.Error)
	}
	c.Print(utils.WriteTable(newRowTable(source.Attributes, []string{"name", "type"})))
}

// set binds a json value to a name of the query context, unset removes it.
func set(c *ishell.Context) {
	if len(c.Args) < 2 {
		c.Println("usage: set <name> <json value>")
		return
	}
	var v interface{}
	if err := json.Unmarshal([]byte(strings.Join(c.Args[1:], " ")), &v); err != nil {
		printError(c, "invalid json: %s", err)
		return
	}
	ctx.context[c.Args[0]] = v
}

func unset(c *ishell.Context) {
	for _, name := range c.Args {
		delete(ctx.context, name)
	}
}

func readExpression(c *ishell.Context) (json.RawMessage, bool) {
	c.Println("json expression ending with semicolon ';':")
	lines := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(c.ReadMultiLines(";")), ";"))
	if !json.Valid([]byte(lines)) {
		printError(c, "expression is not valid json")
		return nil, false
	}
	return json.RawMessage(lines), true
}

func query(c *ishell.Context) {
	ex, ok := readExpression(c)
	if !ok {
		return
	}
	var response struct {
		RequestID string      `json:"requestID"`
		Result    interface{} `json:"result"`
	}
	body := map[string]interface{}{"expression": ex, "context": ctx.context}
	if err := call(http.MethodPost, "/query", body, &response); err != nil {
		printError(c, "%s", err)
		return
	}
	if rows, ok := asRows(response.Result); ok {
		c.ShowPaged(utils.WriteTable(newRowTable(rows, nil)))
	} else {
		data, _ := json.MarshalIndent(response.Result, "", "  ")
		c.Println(string(data))
	}
	c.Println(color.New(color.FgHiBlack).Sprintf("request %s", response.RequestID))
}

func plan(c *ishell.Context) {
	ex, ok := readExpression(c)
	if !ok {
		return
	}
	var response struct {
		Plan    string        `json:"plan"`
		Queries []interface{} `json:"queries"`
	}
	body := map[string]interface{}{"expression": ex, "context": ctx.context}
	if err := call(http.MethodPost, "/query/plan", body, &response); err != nil {
		printError(c, "%s", err)
		return
	}
	c.Println(response.Plan)
	for _, q := range response.Queries {
		data, _ := json.MarshalIndent(q, "", "  ")
		c.Println(string(data))
	}
}

// Execute runs the shell.
func Execute() {

	// ishell shell
	shell := ishell.New()

	shell.Println("Welcome to AresQuery Cli!")
	shell.AddCmd(&ishell.Cmd{
		Name: "show",
		Help: "`show sources` lists the sources of the broker, `show context` the bound names",
		Func: show,
		Completer: func(args []string) []string {
			return []string{"sources", "context", "configs"}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "describe",
		Help: "show the attributes of a source",
		Func: describe,
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "set",
		Help: "bind a json value to a name of the query context",
		Func: set,
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "unset",
		Help: "remove names from the query context",
		Func: unset,
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "query",
		Help: "evaluate a json expression",
		Func: query,
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "plan",
		Help: "show the plan and the native queries of a json expression",
		Func: plan,
	})

	// cobra command
	cmd := &cobra.Command{
		Use:     "arescli",
		Short:   "AresQuery cli",
		Long:    "AresQuery command line tool to query the broker",
		Example: "arescli --host localhost --port 9475",
		Run: func(cmd *cobra.Command, args []string) {
			// read args
			var err error
			ctx.host, err = cmd.Flags().GetString("host")
			if err != nil {
				panic("failed to get broker host")
			}
			ctx.port, err = cmd.Flags().GetInt("port")
			if err != nil {
				panic("failed to get broker port")
			}
			ctx.context = map[string]interface{}{}

			// config http client
			ctx.client = http.Client{}

			if len(args) > 0 {
				shell.Process(args...)
			} else {
				shell.Run()
				shell.Close()
			}
		},
	}

	cmd.Flags().StringP("host", "", "localhost", "host of the aresquery broker")
	cmd.Flags().IntP("port", "p", 9475, "port of the aresquery broker")
	cmd.Execute()
}

func main() {
	Execute()
}
