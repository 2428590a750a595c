// Package plugin implements the out-of-process FFI protocol: a plugin is a
// subprocess speaking one JSON object request/response pair per line over
// its stdin/stdout, giving Lox scripts a way to call into a host-language
// helper without the VM linking against it directly.
package plugin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"loxvm/internal/value"
)

// PluginRequest is one RPC call sent to a plugin subprocess.
type PluginRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// PluginResponse is the subprocess's reply to one PluginRequest.
type PluginResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type PluginClient struct {
	Name    string
	Cmd     *exec.Cmd
	Stdin   io.WriteCloser
	Stdout  *bufio.Scanner
	Running bool
	Lock    sync.Mutex
}

var (
	LoadedPlugins = make(map[string]*PluginClient)
	PluginsLock   sync.Mutex
)

// LoadPlugin starts (or reuses) the named plugin subprocess. executableName
// is resolved against PATH, then against ./lox_libs/<name>/<executableName>,
// then against the current directory.
func LoadPlugin(name string, executableName string) (*PluginClient, error) {
	PluginsLock.Lock()
	defer PluginsLock.Unlock()

	if client, ok := LoadedPlugins[name]; ok {
		return client, nil
	}

	execPath := resolveExecutable(name, executableName)
	if execPath == "" {
		return nil, fmt.Errorf("plugin %q: could not locate executable %q", name, executableName)
	}

	cmd := exec.Command(execPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %v", err)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %v", err)
	}

	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start plugin process: %v", err)
	}

	client := &PluginClient{
		Name:    name,
		Cmd:     cmd,
		Stdin:   stdin,
		Stdout:  bufio.NewScanner(stdoutPipe),
		Running: true,
	}

	LoadedPlugins[name] = client
	return client, nil
}

func resolveExecutable(name, executableName string) string {
	if path, err := exec.LookPath(executableName); err == nil {
		return path
	}

	libPath := filepath.Join("lox_libs", name, executableName)
	if _, err := os.Stat(libPath); err == nil {
		abs, _ := filepath.Abs(libPath)
		return abs
	}
	if _, err := os.Stat(libPath + ".exe"); err == nil {
		abs, _ := filepath.Abs(libPath + ".exe")
		return abs
	}
	if _, err := os.Stat(executableName); err == nil {
		abs, _ := filepath.Abs(executableName)
		return abs
	}
	return ""
}

// Call sends one RPC request and blocks for the matching response line.
// Any transport failure (marshal, write, EOF) degrades to nil rather than
// panicking — a plugin is a best-effort external collaborator.
func (c *PluginClient) Call(method string, args []value.Value) value.Value {
	c.Lock.Lock()
	defer c.Lock.Unlock()

	if !c.Running {
		return value.Nil()
	}

	jsonArgs := make([]interface{}, len(args))
	for i, arg := range args {
		jsonArgs[i] = ValueToInterface(arg)
	}

	req := PluginRequest{Method: method, Params: jsonArgs}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plugin error: failed to marshal request: %v\n", err)
		return value.Nil()
	}

	if _, err := c.Stdin.Write(append(reqBytes, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "plugin error: failed to write to plugin: %v\n", err)
		c.Running = false
		return value.Nil()
	}

	if c.Stdout.Scan() {
		var resp PluginResponse
		if err := json.Unmarshal(c.Stdout.Bytes(), &resp); err != nil {
			fmt.Fprintf(os.Stderr, "plugin error: failed to unmarshal response: %v\n", err)
			return value.Nil()
		}
		if resp.Error != "" {
			fmt.Fprintf(os.Stderr, "plugin remote error: %s\n", resp.Error)
			return value.Nil()
		}
		return InterfaceToValue(resp.Result)
	}

	if err := c.Stdout.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "plugin error: read failed: %v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "plugin error: unexpected EOF\n")
	}
	c.Running = false
	return value.Nil()
}

// ValueToInterface converts a Lox Value to a JSON-marshalable Go value.
// Lox has no array/map literal syntax, so strings are the only heap
// variant sent as themselves; any other heap value is sent as its
// printed form.
func ValueToInterface(v value.Value) interface{} {
	switch v.Type {
	case value.VAL_NIL:
		return nil
	case value.VAL_BOOL:
		return v.AsBool
	case value.VAL_NUMBER:
		return v.AsNumber
	case value.VAL_OBJ:
		if v.IsString() {
			return v.AsString()
		}
		return v.String()
	default:
		return nil
	}
}

// InterfaceToValue converts a JSON-decoded Go value back into a Lox Value.
func InterfaceToValue(i interface{}) value.Value {
	switch v := i.(type) {
	case nil:
		return value.Nil()
	case bool:
		return value.Bool(v)
	case float64:
		return value.Number(v)
	case string:
		return value.Obj(&value.ObjString{Chars: v})
	default:
		return value.Obj(&value.ObjString{Chars: fmt.Sprintf("%v", v)})
	}
}
