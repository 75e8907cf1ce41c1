package instance

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projecteru2/fcsdk/utils"
)

const (
	vmmHelperEnv      = "FCSDK_TEST_VMM"
	vmmLogEnv         = "FCSDK_TEST_VMM_LOG"
	vmmFailPathEnv    = "FCSDK_TEST_VMM_FAIL_PATH"
	vmmExitEnv        = "FCSDK_TEST_VMM_EXIT"
	vmmTermMarkEnv    = "FCSDK_TEST_VMM_TERM_MARK"
	jailerHelperEnv   = "FCSDK_TEST_JAILER"
	jailerChildEnv    = "FCSDK_TEST_JAILER_CHILD"
	jailerChildRoot   = "FCSDK_TEST_JAILER_ROOT"
	jailerChildSock   = "FCSDK_TEST_JAILER_SOCK"
	jailerChildPIDEnv = "FCSDK_TEST_JAILER_PIDFILE"
)

func TestMain(m *testing.M) {
	switch {
	case os.Getenv(vmmHelperEnv) == "1":
		os.Exit(runFakeVMM())
	case os.Getenv(jailerHelperEnv) == "1" && os.Getenv(jailerChildEnv) == "1":
		os.Exit(runFakeJailerChild())
	case os.Getenv(jailerHelperEnv) == "1":
		os.Exit(runFakeJailer())
	}
	os.Exit(m.Run())
}

// loggedRequest is one exchange recorded by the fake VMM.
type loggedRequest struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func runFakeVMM() int {
	if os.Getenv(vmmExitEnv) == "1" {
		fmt.Fprintln(os.Stderr, "fake vmm: exiting early")
		return 3
	}
	sock, ok := findArgValue(os.Args[1:], "--api-sock")
	if !ok {
		fmt.Fprintln(os.Stderr, "missing --api-sock")
		return 2
	}
	return serveFakeVMM(sock)
}

func runFakeJailer() int {
	id, _ := findArgValue(os.Args[1:], "--id")
	execFile, _ := findArgValue(os.Args[1:], "--exec-file")
	base, _ := findArgValue(os.Args[1:], "--chroot-base-dir")
	if id == "" || execFile == "" || base == "" {
		fmt.Fprintln(os.Stderr, "missing --id, --exec-file or --chroot-base-dir")
		return 2
	}
	for _, flag := range []string{"--uid", "--gid"} {
		if _, ok := findArgValue(os.Args[1:], flag); !ok {
			fmt.Fprintf(os.Stderr, "missing %s\n", flag)
			return 2
		}
	}
	guestSock := "/run/firecracker.socket"
	if idx := indexOf(os.Args, "--"); idx != -1 {
		if s, ok := findArgValue(os.Args[idx+1:], "--api-sock"); ok {
			guestSock = s
		}
	}

	root := filepath.Join(base, filepath.Base(execFile), id, "root")
	hostSock := filepath.Join(root, strings.TrimPrefix(guestSock, "/"))
	pidFile := filepath.Join(root, filepath.Base(execFile)+".pid")
	if err := os.MkdirAll(root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create jail root: %v\n", err)
		return 2
	}

	if indexOf(os.Args[1:], "--daemonize") != -1 {
		child := exec.Command(os.Args[0]) //nolint:gosec
		child.Env = append(os.Environ(),
			jailerChildEnv+"=1",
			jailerChildRoot+"="+root,
			jailerChildSock+"="+hostSock,
			jailerChildPIDEnv+"="+pidFile,
		)
		if err := child.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "start jailed child: %v\n", err)
			return 2
		}
		return 0
	}
	return serveJailed(root, hostSock, pidFile)
}

func runFakeJailerChild() int {
	return serveJailed(os.Getenv(jailerChildRoot), os.Getenv(jailerChildSock), os.Getenv(jailerChildPIDEnv))
}

// serveJailed mimics a VMM inside its chroot: relative paths resolve
// against the jail root.
func serveJailed(root, hostSock, pidFile string) int {
	if err := utils.WritePIDFile(pidFile, os.Getpid()); err != nil {
		fmt.Fprintf(os.Stderr, "write pid file: %v\n", err)
		return 2
	}
	if err := os.Chdir(root); err != nil {
		fmt.Fprintf(os.Stderr, "chdir: %v\n", err)
		return 2
	}
	return serveFakeVMM(hostSock)
}

func serveFakeVMM(sock string) int {
	if err := os.MkdirAll(filepath.Dir(sock), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create socket dir: %v\n", err)
		return 2
	}
	_ = os.Remove(sock)
	lis, err := net.Listen("unix", sock)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		return 2
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-stop
		if mark := os.Getenv(vmmTermMarkEnv); mark != "" {
			_ = os.WriteFile(mark, []byte("terminated"), 0o644) //nolint:gosec
		}
		_ = lis.Close()
		os.Exit(0)
	}()

	var logMu sync.Mutex
	for {
		conn, err := lis.Accept()
		if err != nil {
			return 0
		}
		go handleFakeConn(conn, &logMu)
	}
}

func handleFakeConn(conn net.Conn, logMu *sync.Mutex) {
	defer conn.Close() //nolint:errcheck
	br := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		body, _ := io.ReadAll(req.Body)
		logMu.Lock()
		appendRequestLog(req.Method, req.URL.Path, body)
		logMu.Unlock()

		status, resp := routeFake(req.Method, req.URL.Path, body)
		var out string
		if status == http.StatusNoContent {
			out = "HTTP/1.1 204 No Content\r\nServer: Firecracker API\r\n\r\n"
		} else {
			out = fmt.Sprintf("HTTP/1.1 %d %s\r\nServer: Firecracker API\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
				status, http.StatusText(status), len(resp), resp)
		}
		if _, err := io.WriteString(conn, out); err != nil {
			return
		}
	}
}

func routeFake(method, path string, body []byte) (int, string) {
	if fail := os.Getenv(vmmFailPathEnv); fail != "" && fail == path {
		return http.StatusBadRequest, `{"fault_message":"injected failure"}`
	}
	var fields map[string]any
	_ = json.Unmarshal(body, &fields)
	// Files the VMM opens must be reachable from its point of view.
	for _, key := range []string{"kernel_image_path", "initrd_path", "path_on_host", "log_path", "metrics_path"} {
		if p, ok := fields[key].(string); ok && p != "" {
			if _, err := os.Stat(p); err != nil {
				return http.StatusBadRequest, fmt.Sprintf(`{"fault_message":"cannot open %s"}`, p)
			}
		}
	}

	switch method + " " + path {
	case "GET /":
		return http.StatusOK, `{"app_name":"Firecracker","id":"anonymous-instance","state":"Running","vmm_version":"1.7.0"}`
	case "GET /version":
		return http.StatusOK, `{"firecracker_version":"1.7.0"}`
	case "GET /machine-config":
		return http.StatusOK, `{"vcpu_count":2,"mem_size_mib":256,"smt":false}`
	case "GET /mmds":
		return http.StatusOK, `{"latest":{"meta-data":{"instance-id":"i-1"}}}`
	case "GET /balloon/statistics":
		return http.StatusOK, `{"target_pages":10,"actual_pages":10,"target_mib":1,"actual_mib":1}`
	case "PUT /snapshot/create":
		for _, key := range []string{"snapshot_path", "mem_file_path"} {
			p, _ := fields[key].(string)
			if err := os.WriteFile(p, []byte(key), 0o644); err != nil { //nolint:gosec
				return http.StatusBadRequest, fmt.Sprintf(`{"fault_message":"write %s: %v"}`, p, err)
			}
		}
		return http.StatusNoContent, ""
	}
	if method == http.MethodPut || method == http.MethodPatch {
		return http.StatusNoContent, ""
	}
	return http.StatusNotFound, `{"fault_message":"not found"}`
}

func appendRequestLog(method, path string, body []byte) {
	logPath := os.Getenv(vmmLogEnv)
	if logPath == "" {
		return
	}
	rec := loggedRequest{Method: method, Path: path}
	if len(body) > 0 {
		rec.Body = body
	}
	line, _ := json.Marshal(rec)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return
	}
	defer f.Close() //nolint:errcheck
	_, _ = f.Write(append(line, '\n'))
}

// readRequestLog returns the exchanges the fake VMM recorded.
func readRequestLog(t *testing.T, path string) []loggedRequest {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec
	require.NoError(t, err)
	var out []loggedRequest
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var rec loggedRequest
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

// lastBody decodes the body of the last request to path.
func lastBody(t *testing.T, logPath, path string) map[string]any {
	t.Helper()
	var found map[string]any
	for _, rec := range readRequestLog(t, logPath) {
		if rec.Path == path {
			found = map[string]any{}
			require.NoError(t, json.Unmarshal(rec.Body, &found))
		}
	}
	require.NotNil(t, found, "no request to %s", path)
	return found
}

func findArgValue(args []string, key string) (string, bool) {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == key {
			return args[i+1], true
		}
	}
	return "", false
}

func indexOf(args []string, needle string) int {
	for i, arg := range args {
		if arg == needle {
			return i
		}
	}
	return -1
}

func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "fc-")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}
