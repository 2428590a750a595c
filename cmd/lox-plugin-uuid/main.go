// Command lox-plugin-uuid is a demo out-of-process plugin speaking the
// JSON-RPC-over-stdio protocol internal/plugin implements: one request
// object per line in, one response object per line out. It answers the
// "generate" method with a fresh UUID.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

type pluginRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type pluginResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	for scanner.Scan() {
		var req pluginRequest
		resp := pluginResponse{}

		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp.Error = fmt.Sprintf("bad request: %v", err)
			writeResponse(writer, resp)
			continue
		}

		switch req.Method {
		case "generate":
			resp.Result = uuid.New().String()
		default:
			resp.Error = fmt.Sprintf("unknown method %q", req.Method)
		}

		writeResponse(writer, resp)
	}
}

func writeResponse(w *bufio.Writer, resp pluginResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plugin error: failed to marshal response: %v\n", err)
		return
	}
	w.Write(data)
	w.WriteByte('\n')
	w.Flush()
}
