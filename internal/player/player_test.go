package player

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"rtspplayer/pkg/rtp"
	"rtspplayer/pkg/rtsp"
)

const (
	testSessionID = 123456
	testLength    = 300
	testSDP       = "v=0\no=- 123456 1 IN IP4 127.0.0.1\ns=movie.Mjpeg\nt=0 0\nm=video 25000 RTP/AVP 26"
)

// fakeServer answers control requests over one end of a pipe. respond may return
// ("", false) to fall back to the default reply, or ("", true) to stay silent.
type fakeServer struct {
	conn    net.Conn
	respond func(method string, cseq int) (string, bool)

	mu       sync.Mutex
	requests []string
}

func newFakeServer(t *testing.T, respond func(method string, cseq int) (string, bool)) (*fakeServer, Option) {
	t.Helper()

	client, server := net.Pipe()
	fs := &fakeServer{conn: server, respond: respond}
	go fs.serve()
	t.Cleanup(func() { server.Close() })

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return client, nil
	}
	return fs, WithDialer(dial)
}

func (fs *fakeServer) serve() {
	buf := make([]byte, rtsp.MaxReplySize)
	for {
		n, err := fs.conn.Read(buf)
		if err != nil {
			return
		}
		req := string(buf[:n])

		fs.mu.Lock()
		fs.requests = append(fs.requests, req)
		fs.mu.Unlock()

		lines := strings.Split(req, "\n")
		method := strings.Fields(lines[0])[0]
		cseq, _ := strconv.Atoi(requestHeader(lines, rtsp.HeaderCSeq))

		var reply string
		handled := false
		if fs.respond != nil {
			reply, handled = fs.respond(method, cseq)
		}
		if !handled {
			reply = defaultReply(method, cseq)
		}
		if reply == "" {
			continue
		}
		if _, err := fs.conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func (fs *fakeServer) methods() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	methods := make([]string, 0, len(fs.requests))
	for _, req := range fs.requests {
		methods = append(methods, strings.Fields(req)[0])
	}
	return methods
}

// last returns the most recent request of the given method
func (fs *fakeServer) last(method string) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := len(fs.requests) - 1; i >= 0; i-- {
		if strings.HasPrefix(fs.requests[i], method+" ") {
			return fs.requests[i]
		}
	}
	return ""
}

func requestHeader(lines []string, key string) string {
	for _, line := range lines[1:] {
		if k, v, ok := strings.Cut(line, ":"); ok && k == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func okReply(cseq, session int, extra ...string) string {
	lines := append([]string{
		"RTSP/1.0 200 OK",
		fmt.Sprintf("CSeq: %d", cseq),
		fmt.Sprintf("Session: %d", session),
	}, extra...)
	return strings.Join(lines, "\n")
}

func defaultReply(method string, cseq int) string {
	switch rtsp.Method(method) {
	case rtsp.MethodSetup:
		return okReply(cseq, testSessionID, fmt.Sprintf("Length: %d", testLength))
	case rtsp.MethodDescribe:
		return okReply(cseq, testSessionID, "Content-Base: movie.Mjpeg", "Content-Type: application/sdp",
			fmt.Sprintf("Content-Length: %d", len(testSDP)), "", testSDP)
	default:
		return okReply(cseq, testSessionID)
	}
}

// freeUDPPort finds a port that was bindable a moment ago
func freeUDPPort(t *testing.T) int {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func sendFrames(t *testing.T, port int, seqs ...uint16) {
	t.Helper()

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	for _, seq := range seqs {
		pkt := &pionrtp.Packet{
			Header: pionrtp.Header{
				Version:        rtp.Version,
				PayloadType:    rtp.PayloadTypeJPEG,
				SequenceNumber: seq,
				Timestamp:      uint32(seq) * 3000,
				SSRC:           0xcafe,
			},
			Payload: []byte(fmt.Sprintf("frame-%d", seq)),
		}
		data, err := pkt.Marshal()
		require.NoError(t, err)
		_, err = conn.Write(data)
		require.NoError(t, err)
	}
}

type frameLog struct {
	mu     sync.Mutex
	frames []int
}

func (l *frameLog) HandleFrame(frame int, payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, frame)
}

func (l *frameLog) snapshot() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.frames...)
}

func testConfig(t *testing.T) *Config {
	t.Helper()

	config := DefaultConfig()
	config.Stream.Resource = "movie.Mjpeg"
	config.RTP.Port = freeUDPPort(t)
	config.RTP.ReceiveTimeout = 50 * time.Millisecond
	config.Session.SetupTimeout = 2 * time.Second
	config.Session.ReplyTimeout = 2 * time.Second
	config.Cache.Dir = t.TempDir()
	return config
}

func startPlayer(t *testing.T, config *Config, opts ...Option) *Player {
	t.Helper()

	opts = append(opts, WithPollInterval(50*time.Millisecond))
	p := New(config, opts...)
	require.NoError(t, p.Connect(context.Background()))
	t.Cleanup(func() { p.Shutdown() })
	return p
}

func waitState(t *testing.T, p *Player, want rtsp.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == want }, 2*time.Second, 10*time.Millisecond)
}

func TestPlayerPlayPauseStop(t *testing.T) {
	config := testConfig(t)
	server, dial := newFakeServer(t, nil)

	frames := &frameLog{}
	stats := make(chan rtp.Report, 1)
	var progressMu sync.Mutex
	var progress float64

	p := startPlayer(t, config, dial,
		WithFrameSink(frames),
		WithStatsHandler(func(r rtp.Report) { stats <- r }),
		WithProgressHandler(func(f float64) {
			progressMu.Lock()
			progress = f
			progressMu.Unlock()
		}))

	require.NoError(t, p.Play())
	waitState(t, p, rtsp.StatePlaying)
	require.Equal(t, testLength, p.StreamLength())
	require.Contains(t, server.last("SETUP"), fmt.Sprintf("client_port= %d", config.RTP.Port))
	require.Contains(t, server.last("PLAY"), "Session: 123456")
	require.Contains(t, server.last("PLAY"), "Frame: 1")

	sendFrames(t, config.RTP.Port, 1, 2, 4)
	require.Eventually(t, func() bool { return len(frames.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []int{1, 2, 4}, frames.snapshot())
	require.Equal(t, 4, p.CurrentFrame())

	progressMu.Lock()
	require.InDelta(t, 4.0/testLength, progress, 1e-9)
	progressMu.Unlock()

	cachePath := filepath.Join(config.Cache.Dir, "cache-123456.jpg")
	data, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	require.Equal(t, "frame-4", string(data))

	require.NoError(t, p.Pause())
	waitState(t, p, rtsp.StateReady)

	select {
	case report := <-stats:
		require.Equal(t, 1, report.FirstFrame)
		require.Equal(t, 4, report.LastFrame)
		require.Equal(t, 3, report.Received)
		require.Equal(t, 1, report.LossEvents)
		require.InDelta(t, 0.25, report.LossRate, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("no statistics after pause")
	}
	require.False(t, p.receiver.Running())

	require.NoError(t, p.Stop())
	require.Equal(t, rtsp.StateInit, p.State())
	require.Zero(t, p.CurrentFrame())
	require.Nil(t, p.receiver.LocalAddr())
	require.NoFileExists(t, cachePath)

	s, err := p.activeSession()
	require.NoError(t, err)
	require.Zero(t, s.SessionID())
	require.Equal(t, []string{"SETUP", "PLAY", "PAUSE", "TEARDOWN"}, server.methods())
}

func TestPlayerStopWhilePlayingJoinsReceiver(t *testing.T) {
	config := testConfig(t)
	_, dial := newFakeServer(t, nil)
	p := startPlayer(t, config, dial)

	require.NoError(t, p.Play())
	waitState(t, p, rtsp.StatePlaying)
	require.True(t, p.receiver.Running())

	require.NoError(t, p.Stop())
	require.False(t, p.receiver.Running())
	require.Nil(t, p.receiver.LocalAddr())

	// the port is free again
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", config.RTP.Port))
	require.NoError(t, err)
	conn.Close()
}

func TestPlayerPlayAgainAfterTeardown(t *testing.T) {
	config := testConfig(t)
	server, dial := newFakeServer(t, nil)
	p := startPlayer(t, config, dial)

	require.NoError(t, p.Play())
	waitState(t, p, rtsp.StatePlaying)
	require.NoError(t, p.Stop())

	require.NoError(t, p.Play())
	waitState(t, p, rtsp.StatePlaying)
	require.Contains(t, server.last("SETUP"), "CSeq: 1")
	require.Contains(t, server.last("PLAY"), "Frame: 1")
}

func TestPlayerIgnoresForeignSessionReply(t *testing.T) {
	config := testConfig(t)
	_, dial := newFakeServer(t, func(method string, cseq int) (string, bool) {
		if method == string(rtsp.MethodPlay) {
			return okReply(cseq, 999), true
		}
		return "", false
	})
	p := startPlayer(t, config, dial)

	require.NoError(t, p.Play())
	require.Never(t, func() bool { return p.State() == rtsp.StatePlaying }, 300*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, rtsp.StateReady, p.State())

	s, err := p.activeSession()
	require.NoError(t, err)
	require.Equal(t, testSessionID, s.SessionID())
	require.Equal(t, rtsp.MethodPlay, s.Pending())
}

func TestPlayerSeek(t *testing.T) {
	config := testConfig(t)
	server, dial := newFakeServer(t, nil)
	p := startPlayer(t, config, dial)

	require.ErrorIs(t, p.Seek(0.5), rtsp.ErrInvalidState)
	require.ErrorIs(t, p.Seek(1.5), ErrInvalidSeek)
	require.ErrorIs(t, p.Seek(-0.1), ErrInvalidSeek)

	require.NoError(t, p.Play())
	waitState(t, p, rtsp.StatePlaying)

	require.NoError(t, p.Seek(0.5))
	require.Equal(t, 150, p.CurrentFrame())
	waitState(t, p, rtsp.StatePlaying)
	require.Contains(t, server.last("PLAY"), "Frame: 151")
	require.Equal(t, []string{"SETUP", "PLAY", "PAUSE", "PLAY"}, server.methods())

	sendFrames(t, config.RTP.Port, 151, 152)
	require.Eventually(t, func() bool { return p.CurrentFrame() == 152 }, 2*time.Second, 10*time.Millisecond)
}

func TestPlayerSeekWhileReadyResumes(t *testing.T) {
	config := testConfig(t)
	server, dial := newFakeServer(t, nil)
	p := startPlayer(t, config, dial)

	require.NoError(t, p.Play())
	waitState(t, p, rtsp.StatePlaying)
	require.NoError(t, p.Pause())
	waitState(t, p, rtsp.StateReady)

	require.NoError(t, p.Seek(1))
	require.Equal(t, testLength, p.CurrentFrame())
	waitState(t, p, rtsp.StatePlaying)
	require.Contains(t, server.last("PLAY"), "Frame: 301")
}

func TestPlayerDescribePolicy(t *testing.T) {
	tests := []struct {
		name         string
		policy       string
		sentWhenIdle bool
	}{
		{name: "playing only", policy: DescribePlaying, sentWhenIdle: false},
		{name: "any active state", policy: DescribeActive, sentWhenIdle: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(t)
			config.Session.DescribePolicy = tt.policy
			server, dial := newFakeServer(t, nil)

			descriptions := make(chan Description, 2)
			p := startPlayer(t, config, dial, WithDescriptionHandler(func(d Description) { descriptions <- d }))

			require.NoError(t, p.Describe())
			require.Empty(t, server.methods())

			require.NoError(t, p.Play())
			waitState(t, p, rtsp.StatePlaying)
			require.NoError(t, p.Pause())
			waitState(t, p, rtsp.StateReady)

			require.NoError(t, p.Describe())
			if tt.sentWhenIdle {
				require.Eventually(t, func() bool { return len(descriptions) == 1 }, 2*time.Second, 10*time.Millisecond)
				<-descriptions
			} else {
				require.NotContains(t, server.methods(), "DESCRIBE")
			}

			require.NoError(t, p.Play())
			waitState(t, p, rtsp.StatePlaying)
			require.NoError(t, p.Describe())

			select {
			case d := <-descriptions:
				require.Equal(t, testSDP, d.Text)
				require.NotNil(t, d.SDP)
				require.Equal(t, "movie.Mjpeg", string(d.SDP.SessionName))
				require.Len(t, d.SDP.MediaDescriptions, 1)
				require.Equal(t, "video", d.SDP.MediaDescriptions[0].MediaName.Media)
			case <-time.After(2 * time.Second):
				t.Fatal("no description")
			}
			require.Equal(t, rtsp.StatePlaying, p.State())
		})
	}
}

func TestPlayerConnectionFailure(t *testing.T) {
	config := testConfig(t)

	var reported error
	p := New(config,
		WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, fmt.Errorf("connection refused")
		}),
		WithErrorHandler(func(err error) { reported = err }))

	err := p.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionFailure)
	require.ErrorIs(t, reported, ErrConnectionFailure)
	require.Contains(t, err.Error(), "127.0.0.1:554")
	require.Equal(t, rtsp.StateInit, p.State())
	require.ErrorIs(t, p.Play(), ErrNotConnected)
	require.NoError(t, p.Shutdown())
}

func TestPlayerBindFailure(t *testing.T) {
	config := testConfig(t)
	busy, err := net.ListenPacket("udp", fmt.Sprintf(":%d", config.RTP.Port))
	require.NoError(t, err)
	defer busy.Close()

	server, dial := newFakeServer(t, nil)
	errs := make(chan error, 4)
	p := startPlayer(t, config, dial, WithErrorHandler(func(err error) { errs <- err }))

	err = p.Play()
	require.ErrorIs(t, err, ErrBindFailure)
	require.Equal(t, rtsp.StateReady, p.State())
	require.False(t, p.receiver.Running())
	require.Equal(t, []string{"SETUP"}, server.methods())
	require.ErrorIs(t, <-errs, ErrBindFailure)
}

func TestPlayerSetupTimeout(t *testing.T) {
	config := testConfig(t)
	config.Session.SetupTimeout = 100 * time.Millisecond
	_, dial := newFakeServer(t, func(method string, cseq int) (string, bool) {
		return "", true
	})

	var reported error
	p := startPlayer(t, config, dial, WithErrorHandler(func(err error) { reported = err }))

	require.ErrorIs(t, p.Play(), ErrSetupTimeout)
	require.ErrorIs(t, reported, ErrSetupTimeout)
	require.Equal(t, rtsp.StateInit, p.State())
}

func TestPlayerRejectedPlayKeepsReady(t *testing.T) {
	config := testConfig(t)
	_, dial := newFakeServer(t, func(method string, cseq int) (string, bool) {
		if method == string(rtsp.MethodPlay) {
			return fmt.Sprintf("RTSP/1.0 404 Not Found\nCSeq: %d\nSession: %d", cseq, testSessionID), true
		}
		return "", false
	})
	p := startPlayer(t, config, dial)

	require.NoError(t, p.Play())
	require.Eventually(t, func() bool {
		s, err := p.activeSession()
		return err == nil && s.Pending() == rtsp.MethodNone
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, rtsp.StateReady, p.State())
	require.False(t, p.receiver.Running())
}

func TestPlayerShutdownAfterServerHangup(t *testing.T) {
	config := testConfig(t)
	server, dial := newFakeServer(t, nil)
	p := startPlayer(t, config, dial)

	require.NoError(t, p.Play())
	waitState(t, p, rtsp.StatePlaying)

	server.conn.Close()
	require.Eventually(t, func() bool { return p.Err() != nil }, 2*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, p.Err(), rtsp.ErrConnectionClosed)

	require.Error(t, p.Stop())
	require.NoError(t, p.Shutdown())
	require.False(t, p.receiver.Running())
	require.ErrorIs(t, p.Play(), ErrNotConnected)
}
