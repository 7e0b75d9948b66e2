package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"
)

// driverTemplate synthesizes a compiled Go program out of an authored
// tool's source, adapted from the teacher's docker_executor.py
// _create_tool_script: the tool's Code is spliced verbatim, params are
// injected as a literal JSON expression, and the program prints exactly
// one JSON line to stdout on success or writes one to stderr and exits 1
// on failure — the stable, language-agnostic protocol named in §9.
//
// executeTool is always defined (composite tools call it; simple tools
// leave it unreferenced) so the driver's import set never depends on
// whether this particular invocation is composite: it recurses back into
// the Tool Store over HTTP, the only channel available to a subprocess
// that doesn't share the parent Go runtime (§4.5 composite execution).
const driverTemplate = `package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

%s

type compositeCallResponse struct {
	Success bool   ` + "`json:\"success\"`" + `
	Result  any    ` + "`json:\"result\"`" + `
	Error   string ` + "`json:\"error\"`" + `
}

func executeTool(name string, params map[string]any) (any, error) {
	body, _ := json.Marshal(map[string]any{
		"name":   name,
		"params": params,
		"depth":  %d,
	})
	resp, err := http.Post(%q, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("composite call to %%s failed: %%w", name, err)
	}
	defer resp.Body.Close()
	var out compositeCallResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&out); decodeErr != nil {
		return nil, fmt.Errorf("composite call to %%s: decode response: %%w", name, decodeErr)
	}
	if !out.Success {
		return nil, fmt.Errorf("composite call to %%s failed: %%s", name, out.Error)
	}
	return out.Result, nil
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "%%s\n", mustJSON(map[string]any{
				"success": false,
				"error":   fmt.Sprintf("panic: %%v", r),
			}))
			os.Exit(1)
		}
	}()

	var params map[string]any
	if err := json.Unmarshal([]byte(%s), &params); err != nil {
		fmt.Fprintf(os.Stderr, "%%s\n", mustJSON(map[string]any{
			"success": false,
			"error":   "failed to decode params: " + err.Error(),
		}))
		os.Exit(1)
	}

	result, err := %s(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%%s\n", mustJSON(map[string]any{
			"success": false,
			"error":   err.Error(),
		}))
		os.Exit(1)
	}

	fmt.Println(mustJSON(map[string]any{
		"success": true,
		"result":  result,
	}))
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ` + "`" + `{"success":false,"error":"failed to encode result"}` + "`" + `
	}
	return string(b)
}
`

// renderDriver fills the driver template with the tool's code, the
// composite-call depth/callback target, a literal JSON params expression,
// and the entry function name. Control characters that would break the
// literal string are escaped by encoding/json.
func renderDriver(code, entryName string, params map[string]any, depth int, callbackURL string) (string, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	// Go string literal containing the JSON; re-quote via %q so embedded
	// quotes/backslashes/newlines are escaped for the Go source we emit.
	literal := fmt.Sprintf("%q", string(paramsJSON))

	body := strings.TrimSpace(code)
	return fmt.Sprintf(driverTemplate, body, depth, callbackURL, literal, entryName), nil
}

// scanLastJSONLine scans output in reverse and returns the last line that
// parses as a JSON object, per §4.2 step 3. Returns ok=false if none does.
func scanLastJSONLine(output string) (map[string]any, bool) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}
