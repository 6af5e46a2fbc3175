package sweep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sift/kusto"
	"sift/lib/utils/parallel"
	"sift/lib/value"
	"sift/scan"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type frameSeq struct {
	frames []kusto.Frame
	next   int
}

func (s *frameSeq) Next() (kusto.Frame, error) {
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

// uriSource builds a frame sequence announcing a one-column schema and one
// fragment per URI. complete=false leaves the stream truncated.
func uriSource(t *testing.T, uris []string, complete bool) *frameSeq {
	t.Helper()
	frames := []kusto.Frame{
		&kusto.TableHeader{
			TableID: 1,
			Kind:    kusto.PrimaryResultKind,
			Schema:  kusto.NewSchema([]kusto.Column{{Name: "Uri", Type: "string"}}),
		},
	}
	for _, uri := range uris {
		b, err := json.Marshal([][]string{{uri}})
		require.NoError(t, err)
		rows, err := value.RowsFromJSON(b)
		require.NoError(t, err)
		frames = append(frames, &kusto.TableFragment{TableID: 1, Rows: rows})
	}
	if complete {
		frames = append(frames, &kusto.DataSetCompletion{})
	}
	return &frameSeq{frames: frames}
}

type recordingReporter struct {
	mu       sync.Mutex
	matches  []string
	progress []uint64
	onMatch  func()
}

func (r *recordingReporter) Match(uri, line string) {
	r.mu.Lock()
	r.matches = append(r.matches, uri)
	onMatch := r.onMatch
	r.mu.Unlock()
	if onMatch != nil {
		onMatch()
	}
}

func (r *recordingReporter) Progress(started uint64, elapsed, perTask time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, started)
}

func sum(s Snapshot) uint64 {
	return s.Matched + s.NoMatch + s.SkippedMalformed + s.SkippedOversize + s.Failed
}

func TestRunSweepsAllArtifacts(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			fmt.Fprintln(w, "kernel: No space left on device")
			return
		}
		fmt.Fprintln(w, "all good here")
	}))
	defer svr.Close()

	uris := []string{
		svr.URL + "/host-1/ok.log",
		svr.URL + "/host-2/bad.log",
		svr.URL + "/host-3/ok.log",
		svr.URL + "/host-4/bad.log",
		svr.URL + "/host-5/ok.log",
	}
	rep := &recordingReporter{}
	stats, err := Run(context.Background(),
		kusto.NewDecoder(uriSource(t, uris, true), "Uri", nil),
		scan.NewScanner(scan.Config{}),
		parallel.NewGate(3),
		rep, Config{})
	require.NoError(t, err)

	snap := stats.Snapshot()
	assert.Equal(t, uint64(5), snap.Started)
	assert.Equal(t, uint64(2), snap.Matched)
	assert.Equal(t, uint64(3), snap.NoMatch)
	assert.Equal(t, snap.Started, sum(snap))
	assert.ElementsMatch(t, []string{uris[1], uris[3]}, rep.matches)
}

func TestRunBoundsConcurrency(t *testing.T) {
	inflight := atomic.NewInt64(0)
	peak := atomic.NewInt64(0)
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Inc()
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Dec()
		fmt.Fprintln(w, "nothing here")
	}))
	defer svr.Close()

	uris := make([]string, 20)
	for i := range uris {
		uris[i] = fmt.Sprintf("%s/host-%d/daemon.log", svr.URL, i)
	}
	stats, err := Run(context.Background(),
		kusto.NewDecoder(uriSource(t, uris, true), "Uri", nil),
		scan.NewScanner(scan.Config{}),
		parallel.NewGate(3),
		&recordingReporter{}, Config{})
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.Equal(t, uint64(20), stats.Started.Load())
	assert.Equal(t, uint64(20), stats.NoMatch.Load())
}

func TestRunEmitsTelemetryEveryNthStart(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "quiet")
	}))
	defer svr.Close()

	uris := make([]string, 6)
	for i := range uris {
		uris[i] = fmt.Sprintf("%s/host-%d.log", svr.URL, i)
	}
	ck := clock.NewMock()
	ck.Set(time.Now())
	rep := &recordingReporter{}
	_, err := Run(context.Background(),
		kusto.NewDecoder(uriSource(t, uris, true), "Uri", nil),
		scan.NewScanner(scan.Config{}),
		parallel.NewGate(2),
		rep, Config{ReportEvery: 2, Clock: ck})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 4, 6}, rep.progress)
}

func TestRunReturnsDecodeErrorAfterBarrier(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "fine")
	}))
	defer svr.Close()

	// truncated stream: decoding fails after the first URI is dispatched
	stats, err := Run(context.Background(),
		kusto.NewDecoder(uriSource(t, []string{svr.URL + "/only.log"}, false), "Uri", nil),
		scan.NewScanner(scan.Config{}),
		parallel.NewGate(2),
		&recordingReporter{}, Config{})
	require.ErrorIs(t, err, kusto.ErrTruncatedStream)

	snap := stats.Snapshot()
	assert.Equal(t, uint64(1), snap.Started)
	// the in-flight scan landed before Run returned
	assert.Equal(t, snap.Started, sum(snap))
}

func TestRunCancellationStopsProducing(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "disk: no space left on device")
	}))
	defer svr.Close()

	uris := make([]string, 50)
	for i := range uris {
		uris[i] = fmt.Sprintf("%s/host-%d.log", svr.URL, i)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &recordingReporter{onMatch: cancel}

	stats, err := Run(ctx,
		kusto.NewDecoder(uriSource(t, uris, true), "Uri", nil),
		scan.NewScanner(scan.Config{}),
		parallel.NewGate(1),
		rep, Config{})
	require.ErrorIs(t, err, context.Canceled)

	snap := stats.Snapshot()
	assert.Less(t, snap.Started, uint64(50))
	assert.Equal(t, snap.Started, sum(snap))
}

func TestRunEmptyStream(t *testing.T) {
	rep := &recordingReporter{}
	stats, err := Run(context.Background(),
		kusto.NewDecoder(uriSource(t, nil, true), "Uri", nil),
		scan.NewScanner(scan.Config{}),
		parallel.NewGate(2),
		rep, Config{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Started.Load())
	assert.Empty(t, rep.matches)
	assert.Empty(t, rep.progress)
}

func TestWriterReporter(t *testing.T) {
	var buf bytes.Buffer
	rep := NewWriterReporter(&buf)
	rep.Match("http://a/log.txt", "disk full")
	rep.Progress(100, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t,
		"MATCH http://a/log.txt: disk full\n"+
			"started 100 scans in 2s (avg 20ms/scan)\n",
		buf.String())
}
