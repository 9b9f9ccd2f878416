// Package integration exercises the intake server end to end with real
// clients running in containers, covering behavior that in-process tests
// cannot: a peer trickling its upload over a real TCP connection.
package integration

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	transporthttp "github.com/pverhoef/intake/pkg/transport/http"
)

func init() {
	// Configure testcontainers to use podman.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// startServer runs an intake server with the given pipeline config on a
// random local port and returns the port. Tests are skipped if no
// container runtime is available.
func startServer(t *testing.T, pipeline transporthttp.PipelineConfig) int {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping container integration tests")
	}
	if _, err := exec.LookPath("podman"); err != nil {
		t.Skip("podman not found, skipping integration tests")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ingest", func(w http.ResponseWriter, r *http.Request) {
		n, err := io.Copy(io.Discard, r.Body)
		if err != nil {
			http.Error(w, err.Error(), transporthttp.StatusFor(err))
			return
		}
		fmt.Fprintf(w, `{"bytes":%d}`, n)
	})

	srv := transporthttp.NewServer(mux, transporthttp.WithPipeline(pipeline))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(ln)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return ln.Addr().(*net.TCPAddr).Port
}

// runCurl executes script in a curl container with access to the given
// host port and returns the combined container output.
func runCurl(t *testing.T, script string, hostPort int) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:           "curlimages/curl:8.10.1",
			Entrypoint:      []string{"/bin/sh", "-c"},
			Cmd:             []string{script},
			HostAccessPorts: []int{hostPort},
			WaitingFor:      wait.ForExit().WithExitTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping: could not start curl container (is podman running?): %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	logs, err := container.Logs(ctx)
	if err != nil {
		t.Fatalf("reading container logs: %v", err)
	}
	defer logs.Close()
	out, err := io.ReadAll(logs)
	if err != nil {
		t.Fatalf("reading container logs: %v", err)
	}
	return string(out)
}

func TestIngestOverRealConnection(t *testing.T) {
	port := startServer(t, transporthttp.DefaultPipelineConfig())

	script := fmt.Sprintf(
		`curl -s -w '\ncode=%%{http_code}\n' --data-binary 'hello world' `+
			`http://host.testcontainers.internal:%d/v1/ingest`, port)

	out := runCurl(t, script, port)
	if !strings.Contains(out, `"bytes":11`) {
		t.Errorf("output missing ingest byte count:\n%s", out)
	}
	if !strings.Contains(out, "code=200") {
		t.Errorf("output missing 200 status:\n%s", out)
	}
}

func TestSlowUploadRejected(t *testing.T) {
	pipeline := transporthttp.DefaultPipelineConfig()
	pipeline.MinDataRate = 50000
	pipeline.RateCheckInterval = 200 * time.Millisecond
	port := startServer(t, pipeline)

	// Trickle 64 KiB at 1 KB/s, far below the 50 KB/s minimum. The
	// server must give up on the upload and answer 408.
	script := fmt.Sprintf(
		`head -c 65536 /dev/zero | curl -s -o /dev/null -w 'code=%%{http_code}\n' `+
			`--limit-rate 1k -H 'Content-Type: application/octet-stream' --data-binary @- `+
			`http://host.testcontainers.internal:%d/v1/ingest`, port)

	out := runCurl(t, script, port)
	if !strings.Contains(out, "code=408") {
		t.Errorf("output missing 408 status:\n%s", out)
	}
}
