package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/yuewen-li/speech2speech/internal/audio"
	"github.com/yuewen-li/speech2speech/internal/pipeline"
	"github.com/yuewen-li/speech2speech/internal/protocol"
)

// WebRTC audio always runs at 48kHz on the wire.
const (
	wireSampleRate = 48000
	frameDuration  = 20 * time.Millisecond
	wireFrameSize  = wireSampleRate / 1000 * 20 // samples per 20ms frame
)

// PeerConfig carries the parameters for one WebRTC peer.
type PeerConfig struct {
	SessionID string

	// PipelineRate is the sample rate the chunker and ports operate at.
	// Inbound audio is resampled from 48kHz down to it, outbound audio up
	// from it.
	PipelineRate int

	ICEServers []string

	// FrameQueue bounds the decoded frame channel. When the session falls
	// behind, the oldest frames are dropped; live audio is worthless late.
	FrameQueue int
}

// Peer is one client's WebRTC connection: an inbound Opus track decoded and
// resampled into PCM frames, an outbound Opus track for synthesized speech,
// and a data channel for transcript events.
type Peer struct {
	config PeerConfig
	logger *slog.Logger

	pc       *webrtc.PeerConnection
	outTrack *webrtc.TrackLocalStaticSample
	events   *webrtc.DataChannel

	decoder *opus.Decoder
	encoder *opus.Encoder

	ingressResampler *audio.Resampler
	egressResampler  *audio.Resampler

	frames       chan []int16
	done         chan struct{}
	trackStarted atomic.Bool

	// hold accumulates resampled egress samples until a full wire frame is
	// available for encoding.
	hold   []int16
	holdMu sync.Mutex

	onICECandidate func(*protocol.ICECandidate)
	onConnected    func()
	onFailed       func()

	closeOnce sync.Once
	doneOnce  sync.Once
}

// NewPeer creates a WebRTC peer connection with an Opus media engine, an
// outbound audio track and the transcript data channel. The peer is inert
// until HandleOffer starts negotiation.
func NewPeer(config PeerConfig, logger *slog.Logger) (*Peer, error) {
	if config.PipelineRate <= 0 {
		return nil, fmt.Errorf("pipeline sample rate must be positive, got %d", config.PipelineRate)
	}
	if config.FrameQueue <= 0 {
		config.FrameQueue = 64
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   wireSampleRate,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register opus codec: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	var iceServers []webrtc.ICEServer
	for _, url := range config.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &Peer{
		config: config,
		logger: logger,
		pc:     pc,
		frames: make(chan []int16, config.FrameQueue),
		done:   make(chan struct{}),
		hold:   make([]int16, 0, wireFrameSize*2),
	}

	if err := p.setup(); err != nil {
		pc.Close()
		return nil, err
	}

	return p, nil
}

func (p *Peer) setup() error {
	decoder, err := opus.NewDecoder(wireSampleRate, 1)
	if err != nil {
		return fmt.Errorf("failed to create opus decoder: %w", err)
	}
	p.decoder = decoder

	encoder, err := opus.NewEncoder(wireSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("failed to create opus encoder: %w", err)
	}
	p.encoder = encoder

	p.ingressResampler, err = audio.NewResampler(wireSampleRate, p.config.PipelineRate)
	if err != nil {
		return fmt.Errorf("failed to create ingress resampler: %w", err)
	}

	p.egressResampler, err = audio.NewResampler(p.config.PipelineRate, wireSampleRate)
	if err != nil {
		return fmt.Errorf("failed to create egress resampler: %w", err)
	}

	p.outTrack, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: wireSampleRate,
		Channels:  1,
	}, "audio", "translated-speech")
	if err != nil {
		return fmt.Errorf("failed to create output track: %w", err)
	}
	if _, err := p.pc.AddTrack(p.outTrack); err != nil {
		return fmt.Errorf("failed to add output track: %w", err)
	}

	p.events, err = p.pc.CreateDataChannel("events", nil)
	if err != nil {
		return fmt.Errorf("failed to create events data channel: %w", err)
	}

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		if !p.trackStarted.CompareAndSwap(false, true) {
			p.logger.Warn("ignoring additional inbound audio track",
				slog.String("session_id", p.config.SessionID))
			return
		}
		p.logger.Info("inbound audio track started",
			slog.String("session_id", p.config.SessionID),
			slog.String("codec", track.Codec().MimeType))
		go p.readTrack(track)
	})

	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || p.onICECandidate == nil {
			return
		}
		init := c.ToJSON()
		p.onICECandidate(&protocol.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Info("peer connection state changed",
			slog.String("session_id", p.config.SessionID),
			slog.String("state", state.String()))

		switch state {
		case webrtc.PeerConnectionStateConnected:
			if p.onConnected != nil {
				p.onConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if p.onFailed != nil && state == webrtc.PeerConnectionStateFailed {
				p.onFailed()
			}
			p.signalDone()
		}
	})

	return nil
}

// OnICECandidate registers the callback for locally gathered candidates,
// which signaling trickles to the client. Must be set before HandleOffer.
func (p *Peer) OnICECandidate(fn func(*protocol.ICECandidate)) {
	p.onICECandidate = fn
}

// OnConnected registers the callback fired when the connection reaches the
// connected state. Must be set before HandleOffer.
func (p *Peer) OnConnected(fn func()) {
	p.onConnected = fn
}

// OnFailed registers the callback fired when the connection fails.
func (p *Peer) OnFailed(fn func()) {
	p.onFailed = fn
}

// HandleOffer applies the client's SDP offer and returns the local answer.
func (p *Peer) HandleOffer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}

	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	return answer.SDP, nil
}

// AddICECandidate applies one remote trickle candidate. Duplicate
// candidates are harmless; the ICE agent deduplicates them.
func (p *Peer) AddICECandidate(candidate *protocol.ICECandidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// readTrack decodes inbound RTP into PCM frames at the pipeline rate. It
// is the sole writer of the frames channel and closes it on exit.
func (p *Peer) readTrack(track *webrtc.TrackRemote) {
	defer close(p.frames)

	buf := make([]byte, 1500)
	packet := &rtp.Packet{}
	pcm := make([]int16, wireFrameSize*3) // up to 60ms per opus packet

	for {
		select {
		case <-p.done:
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			p.logger.Info("inbound track ended",
				slog.String("session_id", p.config.SessionID),
				slog.String("reason", err.Error()))
			p.signalDone()
			return
		}

		if err := packet.Unmarshal(buf[:n]); err != nil {
			p.logger.Warn("failed to unmarshal RTP packet",
				slog.String("session_id", p.config.SessionID),
				slog.String("error", err.Error()))
			continue
		}

		// DTX packets carry no payload
		if len(packet.Payload) == 0 {
			continue
		}

		sampleCount, err := p.decoder.Decode(packet.Payload, pcm)
		if err != nil {
			p.logger.Warn("opus decode failed",
				slog.String("session_id", p.config.SessionID),
				slog.String("error", err.Error()))
			continue
		}
		if sampleCount == 0 {
			continue
		}

		resampled, err := p.ingressResampler.Process(pcm[:sampleCount])
		if err != nil {
			p.logger.Warn("ingress resample failed",
				slog.String("session_id", p.config.SessionID),
				slog.String("error", err.Error()))
			continue
		}
		if len(resampled) == 0 {
			continue // resampler still priming
		}

		p.pushFrame(resampled)
	}
}

// pushFrame hands a decoded frame to the session, evicting the oldest
// queued frame when the session lags behind real time.
func (p *Peer) pushFrame(frame []int16) {
	for {
		select {
		case p.frames <- frame:
			return
		default:
			select {
			case <-p.frames:
			default:
			}
		}
	}
}

// Frames implements Conn.
func (p *Peer) Frames() <-chan []int16 {
	return p.frames
}

// SendTranscript implements Conn by sending the event as JSON over the data
// channel.
func (p *Peer) SendTranscript(ev *protocol.TranscriptEvent) error {
	if p.events.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("events data channel not open (state %s)", p.events.ReadyState())
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode transcript event: %w", err)
	}

	if err := p.events.SendText(string(payload)); err != nil {
		return fmt.Errorf("failed to send transcript event: %w", err)
	}
	return nil
}

// SendAudioFrame implements Conn by resampling to the wire rate, encoding
// to Opus and writing 20ms samples on the outbound track.
func (p *Peer) SendAudioFrame(frame *pipeline.OutboundFrame) error {
	resampled, err := p.egressResampler.Process(frame.Samples)
	if err != nil {
		return fmt.Errorf("egress resample failed: %w", err)
	}

	p.holdMu.Lock()
	defer p.holdMu.Unlock()

	p.hold = append(p.hold, resampled...)

	// Pad out the tail of the utterance so it is not stuck in the hold
	// buffer waiting for audio that will never come.
	if frame.Last && len(p.hold) > 0 && len(p.hold) < wireFrameSize {
		p.hold = append(p.hold, make([]int16, wireFrameSize-len(p.hold))...)
	}

	encoded := make([]byte, 1500)
	for len(p.hold) >= wireFrameSize {
		wireFrame := p.hold[:wireFrameSize]
		p.hold = p.hold[wireFrameSize:]

		n, err := p.encoder.Encode(wireFrame, encoded)
		if err != nil {
			return fmt.Errorf("opus encode failed: %w", err)
		}

		sample := media.Sample{
			Data:     append([]byte(nil), encoded[:n]...),
			Duration: frameDuration,
		}
		if err := p.outTrack.WriteSample(sample); err != nil {
			return fmt.Errorf("failed to write outbound sample: %w", err)
		}
	}

	return nil
}

// Done implements Conn.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) signalDone() {
	p.doneOnce.Do(func() {
		close(p.done)
	})
}

// Close implements Conn. It is safe to call multiple times.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.pc.Close()
		p.signalDone()
		p.ingressResampler.Close()
		p.egressResampler.Close()
	})
	return err
}
