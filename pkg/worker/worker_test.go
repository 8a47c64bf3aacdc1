package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pgweb/pkg/config"
	"github.com/marmos91/pgweb/pkg/guc"
	"github.com/marmos91/pgweb/pkg/host"
	"github.com/marmos91/pgweb/pkg/metrics"
	promexp "github.com/marmos91/pgweb/pkg/metrics/prometheus"
	"github.com/marmos91/pgweb/pkg/query"
)

const testNow = "2026-10-19 12:00:00.123456+00"

type fakeRows struct {
	pgx.Rows
	value any
	read  bool
}

func (r *fakeRows) Next() bool {
	if r.read {
		return false
	}
	r.read = true
	return true
}

func (r *fakeRows) Values() ([]any, error) { return []any{r.value}, nil }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close()                 {}

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	return []pgconn.FieldDescription{{Name: "now"}}
}

type fakeTx struct {
	pgx.Tx
	value any
}

func (tx *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &fakeRows{value: tx.value}, nil
}

func (tx *fakeTx) Commit(context.Context) error   { return nil }
func (tx *fakeTx) Rollback(context.Context) error { return nil }

type fakeSession struct {
	value   any
	queries atomic.Int32
	closed  atomic.Bool
}

func (s *fakeSession) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	s.queries.Add(1)
	return &fakeTx{value: s.value}, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

func connectTo(s *fakeSession) ConnectFunc {
	return func(context.Context) (query.Session, error) { return s, nil }
}

// freePort returns a port inside the pg_web.port range that was free a
// moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	for i := 0; i < 20; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := l.Addr().(*net.TCPAddr).Port
		require.NoError(t, l.Close())
		if port >= guc.MinPort && port <= guc.MaxPort {
			return port
		}
	}
	t.Skip("no free port inside the pg_web.port range")
	return 0
}

func portCell(t *testing.T, port int) *guc.PortCell {
	t.Helper()
	cell := guc.NewPortCell()
	require.NoError(t, cell.Set(port))
	return cell
}

func testConfig() Config {
	return Config{
		Web: config.WebConfig{
			BindAddress:  "127.0.0.1",
			Naptime:      10 * time.Second,
			WriteTimeout: time.Second,
			DrainTimeout: time.Second,
		},
	}
}

type running struct {
	w      *Worker
	cancel context.CancelFunc
	done   chan int
}

func startWorker(t *testing.T, cfg Config, deps Deps) *running {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := New(cfg, deps)
	r := &running{w: w, cancel: cancel, done: make(chan int, 1)}
	go func() { r.done <- w.Run(ctx) }()
	t.Cleanup(cancel)
	return r
}

func (r *running) waitReady(t *testing.T) {
	t.Helper()
	select {
	case <-r.w.Ready():
	case code := <-r.done:
		t.Fatalf("worker exited with %d before listening", code)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not start listening")
	}
}

func (r *running) wait(t *testing.T) int {
	t.Helper()
	select {
	case code := <-r.done:
		return code
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
		return -1
	}
}

func get(t *testing.T, port int, path string) (int, string) {
	t.Helper()
	client := &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
		Timeout:   5 * time.Second,
	}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func assertRefused(t *testing.T, port int) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err == nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, syscall.ECONNREFUSED), "expected connection refused, got %v", err)
}

func TestRun_ServesRoutesUntilCancelled(t *testing.T) {
	port := freePort(t)
	sess := &fakeSession{value: testNow}
	r := startWorker(t, testConfig(), Deps{Port: portCell(t, port), Connect: connectTo(sess)})
	r.waitReady(t)

	assert.Equal(t, StateListening, r.w.State())
	assert.Equal(t, uint16(port), r.w.Addr().Port())

	status, body := get(t, port, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<a href='/count'>count</a>")

	for i := 1; i <= 3; i++ {
		_, body = get(t, port, "/count")
		assert.Equal(t, strconv.Itoa(i), body)
	}

	_, body = get(t, port, "/ip")
	assert.Equal(t, "127.0.0.1", body)

	_, body = get(t, port, "/date")
	assert.Equal(t, testNow, body)
	assert.Equal(t, int32(1), sess.queries.Load())

	status, body = get(t, port, "/nowhere")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bad request '/nowhere'", body)

	r.cancel()
	assert.Equal(t, ExitOK, r.wait(t))
	assert.Equal(t, StateStopped, r.w.State())
	assert.True(t, sess.closed.Load())
	assertRefused(t, port)
}

func TestRun_StopsPromptlyWithPeersHoldingOpen(t *testing.T) {
	port := freePort(t)
	cfg := testConfig()
	cfg.Web.DrainTimeout = 10 * time.Second
	r := startWorker(t, cfg, Deps{Port: portCell(t, port), Connect: connectTo(&fakeSession{value: testNow})})
	r.waitReady(t)

	// Each client reads its response and then keeps the socket open.
	for i := 1; i <= 5; i++ {
		c, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		require.NoError(t, err)
		defer c.Close()
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))

		_, err = io.WriteString(c, "GET /count HTTP/1.1\r\n\r\n")
		require.NoError(t, err)

		want := "\r\n\r\n" + strconv.Itoa(i)
		var got []byte
		buf := make([]byte, 256)
		for !strings.HasSuffix(string(got), want) {
			n, err := c.Read(buf)
			got = append(got, buf[:n]...)
			require.NoError(t, err, "client %d read %q", i, got)
		}
	}

	start := time.Now()
	r.cancel()
	assert.Equal(t, ExitOK, r.wait(t))
	assert.Less(t, time.Since(start), time.Second)
	assertRefused(t, port)
}

func TestRun_CounterRestartsWithWorker(t *testing.T) {
	port := freePort(t)

	for round := 0; round < 2; round++ {
		r := startWorker(t, testConfig(), Deps{Port: portCell(t, port), Connect: connectTo(&fakeSession{value: testNow})})
		r.waitReady(t)

		_, body := get(t, port, "/count")
		assert.Equal(t, "1", body, "round %d", round)

		r.cancel()
		require.Equal(t, ExitOK, r.wait(t))
	}
}

func TestRun_BindFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port
	if port < guc.MinPort || port > guc.MaxPort {
		t.Skip("ephemeral port outside the pg_web.port range")
	}

	sess := &fakeSession{value: testNow}
	r := startWorker(t, testConfig(), Deps{Port: portCell(t, port), Connect: connectTo(sess)})

	assert.Equal(t, ExitFailure, r.wait(t))
	assert.Equal(t, StateStopped, r.w.State())
	assert.True(t, sess.closed.Load())

	select {
	case <-r.w.Ready():
		t.Fatal("worker must not report ready after a bind failure")
	default:
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	port := freePort(t)
	r := startWorker(t, testConfig(), Deps{
		Port: portCell(t, port),
		Connect: func(context.Context) (query.Session, error) {
			return nil, errors.New("connection refused")
		},
	})

	assert.Equal(t, ExitFailure, r.wait(t))
	assert.Equal(t, StateStopped, r.w.State())
	assertRefused(t, port)
}

func TestRun_HostDeath(t *testing.T) {
	latch, err := host.NewLatch()
	require.NoError(t, err)
	defer latch.Close()

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	require.NoError(t, latch.WatchHostDeath(int(pr.Fd())))

	port := freePort(t)
	r := startWorker(t, testConfig(), Deps{
		Latch:   latch,
		Port:    portCell(t, port),
		Connect: connectTo(&fakeSession{value: testNow}),
	})
	r.waitReady(t)

	start := time.Now()
	require.NoError(t, pw.Close())

	assert.Equal(t, ExitFailure, r.wait(t))
	assert.Less(t, time.Since(start), 5*time.Second, "host death must wake the worker before the naptime")
	assertRefused(t, port)
}

func TestRun_SIGHUPRunsReload(t *testing.T) {
	reloaded := make(chan struct{}, 1)
	port := freePort(t)
	r := startWorker(t, testConfig(), Deps{
		Port:    portCell(t, port),
		Connect: connectTo(&fakeSession{value: testNow}),
		Reload: func() {
			select {
			case reloaded <- struct{}{}:
			default:
			}
		},
	})
	r.waitReady(t)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("reload hook not called")
	}
	assert.Equal(t, StateListening, r.w.State(), "SIGHUP must not stop the worker")

	r.cancel()
	assert.Equal(t, ExitOK, r.wait(t))
}

func TestRun_ExportsMetrics(t *testing.T) {
	reg := metrics.NewRegistry(config.MetricsConfig{
		Enabled:  true,
		Textfile: filepath.Join(t.TempDir(), "pgweb.prom"),
		Interval: time.Hour,
	}, os.Getpid())
	m := promexp.NewWorkerMetrics(reg, DefaultName)

	port := freePort(t)
	r := startWorker(t, testConfig(), Deps{
		Port:     portCell(t, port),
		Connect:  connectTo(&fakeSession{value: testNow}),
		Metrics:  m,
		Registry: reg,
	})
	r.waitReady(t)

	get(t, port, "/count")
	get(t, port, "/date")

	r.cancel()
	require.Equal(t, ExitOK, r.wait(t))

	data, err := os.ReadFile(reg.Path())
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `pgweb_worker_state{state="stopped",worker="pg_web"} 1`)
	assert.Contains(t, out, `pgweb_requests_total{route="/count",status="200",worker="pg_web"} 1`)
	assert.Contains(t, out, `pgweb_queries_total{outcome="ok",worker="pg_web"} 1`)
	assert.Contains(t, out, `pgweb_connections_accepted_total{worker="pg_web"} 2`)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}

const (
	helperEnv     = "PGWEB_TEST_HELPER"
	helperModeEnv = "PGWEB_TEST_MODE"
	helperDirEnv  = "PGWEB_TEST_DIR"
	helperPortEnv = "PGWEB_TEST_PORT"
)

// TestHelperWorker is not a real test. The process tests re-execute the test
// binary with this test selected to run a worker as its own process.
func TestHelperWorker(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	port, _ := strconv.Atoi(os.Getenv(helperPortEnv))
	cell := guc.NewPortCell()
	if err := cell.Set(port); err != nil {
		os.Exit(3)
	}

	var value any = testNow
	if os.Getenv(helperModeEnv) == "null" {
		value = nil
	}

	proc := host.NewProc()
	w := New(testConfig(), Deps{Proc: proc, Port: cell, Connect: connectTo(&fakeSession{value: value})})
	go func() {
		<-w.Ready()
		_ = os.WriteFile(filepath.Join(os.Getenv(helperDirEnv), "ready"), nil, 0o644)
	}()
	proc.Exit(w.Run(context.Background()))
}

func startHelper(t *testing.T, mode string) (*exec.Cmd, int) {
	t.Helper()
	if testing.Short() {
		t.Skip("process test")
	}

	dir := t.TempDir()
	port := freePort(t)

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperWorker$")
	cmd.Env = append(os.Environ(),
		helperEnv+"=1",
		helperModeEnv+"="+mode,
		helperDirEnv+"="+dir,
		helperPortEnv+"="+strconv.Itoa(port),
	)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(dir, "ready")); err == nil {
			return cmd, port
		}
		if time.Now().After(deadline) {
			t.Fatal("worker process did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitExit(t *testing.T, cmd *exec.Cmd) int {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			return 0
		}
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		return exitErr.ExitCode()
	case <-time.After(10 * time.Second):
		t.Fatal("worker process did not exit")
		return -1
	}
}

func TestProcess_SIGTERMExitsZero(t *testing.T) {
	cmd, port := startHelper(t, "ok")

	_, body := get(t, port, "/count")
	assert.Equal(t, "1", body)

	start := time.Now()
	require.NoError(t, cmd.Process.Signal(syscall.SIGTERM))

	assert.Equal(t, 0, waitExit(t, cmd))
	assert.Less(t, time.Since(start), 5*time.Second, "SIGTERM must wake the worker before the naptime")
	assertRefused(t, port)
}

func TestProcess_NullScalarIsFatal(t *testing.T) {
	cmd, port := startHelper(t, "null")

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/date", port))
	if err == nil {
		_ = resp.Body.Close()
	}
	assert.Error(t, err, "a fatal query must not produce a response")

	assert.Equal(t, 1, waitExit(t, cmd))
	assertRefused(t, port)
}
